// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/fakesession"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

func newTestSubscriber(t *testing.T, retransmission bool, historyDepth int) (*AdvancedSubscriber, *[]session.Sample) {
	t.Helper()
	var received []session.Sample
	cb := func(s *session.Sample) { received = append(received, *s) }

	as := &AdvancedSubscriber{
		sess:             fakesession.New(session.ZenohId{0x01}),
		base:             "demo/topic",
		cfg:              config.DefaultSubscriberConfig(),
		state:            newSubscriberState("demo/topic", cb),
		breaker:          newQueryBreaker("demo/topic"),
		heartbeatLimiter: rate.NewLimiter(rate.Limit(heartbeatQueryRate), heartbeatQueryBurst),
	}
	as.state.retransmission = retransmission
	as.state.historyDepth = historyDepth
	return as, &received
}

func seqSample(sn uint32, zid byte) *session.Sample {
	return &session.Sample{
		KeyExpr:    "demo/topic",
		Payload:    []byte{byte(sn)},
		Kind:       session.KindPut,
		SourceInfo: &session.SourceInfo{ID: session.EntityGlobalId{Zid: session.ZenohId{zid}, Eid: 1}, SN: sn},
	}
}

func TestHandleSequencedOrderedDeliveryIsLossless(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	ctx := context.Background()

	for sn := uint32(0); sn < 5; sn++ {
		as.handleSample(ctx, seqSample(sn, 0xAA))
	}

	require.Len(t, *received, 5)
	for i, s := range *received {
		require.Equal(t, uint32(i), s.SourceInfo.SN)
	}
}

func TestHandleSequencedGapWithRetransmissionBuffersOutOfOrder(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	ctx := context.Background()

	as.handleSample(ctx, seqSample(0, 0xAA))
	as.handleSample(ctx, seqSample(1, 0xAA))
	// SN 2, 3 missing — arrives out of order.
	as.handleSample(ctx, seqSample(4, 0xAA))
	require.Len(t, *received, 2, "sn 4 must be buffered, not delivered, while sn 2/3 are missing")

	as.handleSample(ctx, seqSample(2, 0xAA))
	require.Len(t, *received, 3, "only sn 2 drains; sn 3 is still missing")

	as.handleSample(ctx, seqSample(3, 0xAA))
	require.Len(t, *received, 5, "sn 3 arriving drains the buffered sn 4 too")

	for i, s := range *received {
		require.Equal(t, uint32(i), s.SourceInfo.SN)
	}
}

func TestHandleSequencedGapWithoutRetransmissionEmitsExactMissCount(t *testing.T) {
	as, received := newTestSubscriber(t, false, 0)
	ctx := context.Background()

	var misses []MissEvent
	as.DeclareSampleMissListener(func(ev MissEvent) { misses = append(misses, ev) })

	for sn := uint32(0); sn < 10; sn++ {
		if sn == 3 || sn == 4 {
			continue
		}
		as.handleSample(ctx, seqSample(sn, 0xAA))
	}

	require.Len(t, misses, 1)
	require.Equal(t, uint32(2), misses[0].Nb, "exactly sn 3 and 4 were skipped")
	require.Len(t, *received, 8)
}

func TestHandleSequencedOldDuplicateDropped(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	ctx := context.Background()

	as.handleSample(ctx, seqSample(0, 0xAA))
	as.handleSample(ctx, seqSample(1, 0xAA))
	as.handleSample(ctx, seqSample(0, 0xAA)) // stale duplicate

	require.Len(t, *received, 2)
}

func tsSample(sec, frac uint32, zid byte) *session.Sample {
	return &session.Sample{
		KeyExpr: "demo/topic",
		Kind:    session.KindPut,
		Timestamp: &session.Timestamp{
			Seconds: sec, Fraction: frac, Zid: session.ZenohId{zid},
		},
	}
}

func TestHandleTimestampedOrderingDropsStaleAndOutOfOrder(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	ctx := context.Background()

	as.handleSample(ctx, tsSample(10, 0, 0xBB))
	as.handleSample(ctx, tsSample(12, 0, 0xBB))
	as.handleSample(ctx, tsSample(11, 0, 0xBB)) // older than last delivered, dropped

	require.Len(t, *received, 2)
	require.Equal(t, uint32(10), (*received)[0].Timestamp.Seconds)
	require.Equal(t, uint32(12), (*received)[1].Timestamp.Seconds)
}

func TestHandleSampleWithNeitherSourceInfoNorTimestampDeliversDirectly(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	ctx := context.Background()

	as.handleSample(ctx, &session.Sample{KeyExpr: "demo/topic", Kind: session.KindPut, Payload: []byte("x")})

	require.Len(t, *received, 1)
}

func TestHandleSampleNoOpsOnceDropped(t *testing.T) {
	as, received := newTestSubscriber(t, true, 0)
	as.state.dropped.Store(true)

	as.handleSample(context.Background(), seqSample(0, 0xAA))

	require.Empty(t, *received)
}
