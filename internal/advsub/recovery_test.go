// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenoh-io/advanced-pubsub-go/internal/fakesession"
	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

func encodeHeartbeat(sn uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, sn)
	return b
}

func TestOnHeartbeatTriggersReactiveGapQueryAndRecovers(t *testing.T) {
	ctx := context.Background()
	srcZid := session.ZenohId{0x20}
	srcID := session.EntityGlobalId{Zid: srcZid, Eid: 7}

	sess := fakesession.New(session.ZenohId{0x21})
	recoveryKey := keyexpr.PerSourceRecoveryKey("demo/topic", srcZid, 7)
	_, err := sess.DeclareQueryable(ctx, recoveryKey, func(_ context.Context, q session.QueryableQuery, reply session.Queryable) {
		for sn := uint32(1); sn <= 2; sn++ {
			_ = reply.Reply(ctx, &session.Sample{
				KeyExpr:    "demo/topic",
				Kind:       session.KindPut,
				SourceInfo: &session.SourceInfo{ID: srcID, SN: sn},
			}, session.PublishOptions{})
		}
		_ = reply.Finalize()
	})
	require.NoError(t, err)

	as, received := newTestSubscriber(t, true, 0)
	as.sess = sess

	// Establish last_delivered = 0 via a normal in-order sample.
	as.handleSample(ctx, &session.Sample{
		KeyExpr:    "demo/topic",
		Kind:       session.KindPut,
		SourceInfo: &session.SourceInfo{ID: srcID, SN: 0},
	})
	require.Len(t, *received, 1)

	lk := keyexpr.LivelinessKey{Kind: keyexpr.SegPub, Zid: srcZid, Eid: 7}
	as.onHeartbeat(ctx, lk, &session.Sample{Payload: encodeHeartbeat(2)})

	require.Eventually(t, func() bool {
		as.state.mu.Lock()
		defer as.state.mu.Unlock()
		return len(*received) == 3
	}, time.Second, time.Millisecond, "reactive gap query must recover sn 1 and sn 2")
}

func TestOnHeartbeatIgnoresMalformedPayload(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	lk := keyexpr.LivelinessKey{Kind: keyexpr.SegPub, Zid: session.ZenohId{0x22}, Eid: 3}

	as.onHeartbeat(context.Background(), lk, &session.Sample{Payload: []byte{0x01, 0x02}})

	require.Empty(t, *received)
}

func TestOnLivelinessTriggersPerSourceHistoryQuery(t *testing.T) {
	ctx := context.Background()
	srcZid := session.ZenohId{0x23}

	sess := fakesession.New(session.ZenohId{0x24})
	recoveryKey := keyexpr.PerSourceRecoveryKey("demo/topic", srcZid, 9)
	_, err := sess.DeclareQueryable(ctx, recoveryKey, func(_ context.Context, q session.QueryableQuery, reply session.Queryable) {
		_ = reply.Reply(ctx, seqSample(0, 0x23), session.PublishOptions{})
		_ = reply.Finalize()
	})
	require.NoError(t, err)

	as, received := newTestSubscriber(t, true, 0)
	as.sess = sess
	as.cfg.History.Enabled = true

	livKey := keyexpr.PublisherKey("demo/topic", srcZid, 9, false, "")
	as.onLiveliness(ctx, &session.Sample{KeyExpr: livKey, Kind: session.KindPut})

	require.Eventually(t, func() bool {
		as.state.mu.Lock()
		defer as.state.mu.Unlock()
		return len(*received) == 1
	}, time.Second, time.Millisecond, "per-source history query must replay the one cached sample")
}

func TestOnLivelinessUHLCQueriesMatchedKeyDirectly(t *testing.T) {
	ctx := context.Background()
	srcZid := session.ZenohId{0x27}

	sess := fakesession.New(session.ZenohId{0x28})
	livKey := keyexpr.PublisherKey("demo/topic", srcZid, 0, true, "")
	_, err := sess.DeclareQueryable(ctx, livKey, func(_ context.Context, q session.QueryableQuery, reply session.Queryable) {
		_ = reply.Reply(ctx, tsSample(10, 0, 0x27), session.PublishOptions{})
		_ = reply.Finalize()
	})
	require.NoError(t, err)

	as, received := newTestSubscriber(t, true, 0)
	as.sess = sess
	as.cfg.History.Enabled = true

	as.onLiveliness(ctx, &session.Sample{KeyExpr: livKey, Kind: session.KindPut})

	require.Eventually(t, func() bool {
		as.state.mu.Lock()
		defer as.state.mu.Unlock()
		return len(*received) == 1
	}, time.Second, time.Millisecond, "a UHLC publisher's history query must target its own liveliness key, not a PerSourceRecoveryKey")

	as.state.mu.Lock()
	_, exists := as.state.timestampedStates[srcZid]
	_, wrongPath := as.state.sequencedStates[session.EntityGlobalId{Zid: srcZid, Eid: 0}]
	as.state.mu.Unlock()
	require.True(t, exists, "a UHLC source must be tracked in timestampedStates, keyed by zid")
	require.False(t, wrongPath, "a UHLC source must not also be tracked as a sequenced source with eid 0")
}

func TestOnLivelinessStartsPeriodicRecoveryForNewSequencedSource(t *testing.T) {
	as, _ := newTestSubscriber(t, true, 0)
	as.cfg.Recovery.Enabled = true
	as.state.hasPeriod = true
	as.state.periodMs = 1000
	as.sched = scheduler.New(context.Background(), "test")

	srcZid := session.ZenohId{0x29}
	livKey := keyexpr.PublisherKey("demo/topic", srcZid, 11, false, "")
	as.onLiveliness(context.Background(), &session.Sample{KeyExpr: livKey, Kind: session.KindPut})

	as.state.mu.Lock()
	s, exists := as.state.sequencedStates[session.EntityGlobalId{Zid: srcZid, Eid: 11}]
	as.state.mu.Unlock()
	require.True(t, exists)
	require.NotNil(t, s.periodicTaskID, "a newly discovered sequenced publisher must get its periodic recovery task started")
}

func TestOnLivelinessIgnoresWithdrawal(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	srcZid := session.ZenohId{0x25}
	livKey := keyexpr.PublisherKey("demo/topic", srcZid, 4, false, "")

	as.onLiveliness(context.Background(), &session.Sample{KeyExpr: livKey, Kind: session.KindDelete})

	require.Empty(t, *received)
	as.state.mu.Lock()
	_, exists := as.state.sequencedStates[session.EntityGlobalId{Zid: srcZid, Eid: 4}]
	as.state.mu.Unlock()
	require.False(t, exists, "a withdrawal must not create per-source state")
}

func TestFlushAllSourcesLockedSpawnsPeriodicRecoveryOnlyWhenConfigured(t *testing.T) {
	as, _ := newTestSubscriber(t, true, 0)
	as.cfg.Recovery.Enabled = false

	id := session.EntityGlobalId{Zid: session.ZenohId{0x26}, Eid: 1}
	s, err := newSequencedState("demo/topic", id)
	require.NoError(t, err)
	as.state.sequencedStates[id] = s

	as.state.mu.Lock()
	as.flushAllSourcesLocked(context.Background())
	as.state.mu.Unlock()

	require.Nil(t, s.periodicTaskID, "recovery disabled: no periodic task should be spawned")
}
