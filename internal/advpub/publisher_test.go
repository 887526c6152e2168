// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advpub

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/fakesession"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

func newSched(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return scheduler.New(ctx, "advpub-test")
}

func TestPutAttachesSequenceNumbers(t *testing.T) {
	ctx := context.Background()
	sess := fakesession.New(session.ZenohId{0x01})
	cfg := config.DefaultPublisherConfig()
	cfg.SampleMissDetection.Enabled = true

	var got []*session.Sample
	_, err := sess.DeclareSubscriber(ctx, "demo/a", func(s *session.Sample) { got = append(got, s) })
	require.NoError(t, err)

	ap, err := Declare(ctx, sess, "demo/a", cfg, newSched(t))
	require.NoError(t, err)

	require.NoError(t, ap.Put(ctx, []byte("x"), nil))
	require.NoError(t, ap.Put(ctx, []byte("y"), nil))

	require.Len(t, got, 2)
	require.NotNil(t, got[0].SourceInfo)
	require.NotNil(t, got[1].SourceInfo)
	assert.Equal(t, uint32(0), got[0].SourceInfo.SN)
	assert.Equal(t, uint32(1), got[1].SourceInfo.SN)
	assert.Equal(t, ap.ID(), got[0].SourceInfo.ID)
}

func TestPutFeedsCacheWhenEnabled(t *testing.T) {
	ctx := context.Background()
	sess := fakesession.New(session.ZenohId{0x02})
	cfg := config.DefaultPublisherConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.MaxSamples = 4
	cfg.SampleMissDetection.Enabled = true

	ap, err := Declare(ctx, sess, "demo/a", cfg, newSched(t))
	require.NoError(t, err)

	require.NoError(t, ap.Put(ctx, []byte("x"), nil))
	require.NoError(t, ap.Put(ctx, []byte("y"), nil))

	cacheKey := ap.cache.KeyExpr()
	var replies []session.QueryReply
	err = sess.Get(ctx, cacheKey, session.GetOptions{Parameters: "_anyke"}, func(r session.QueryReply) {
		replies = append(replies, r)
	})
	require.NoError(t, err)
	require.Len(t, replies, 2)
}

func TestHeartbeatPeriodicSendsUnconditionally(t *testing.T) {
	ctx := context.Background()
	sess := fakesession.New(session.ZenohId{0x03})
	cfg := config.DefaultPublisherConfig()
	cfg.SampleMissDetection.Enabled = true
	cfg.SampleMissDetection.HeartbeatMode = config.HeartbeatPeriodic
	cfg.SampleMissDetection.HeartbeatPeriodMs = 10

	var hbPayloads [][]byte
	ap, err := Declare(ctx, sess, "demo/a", cfg, newSched(t))
	require.NoError(t, err)

	_, err = sess.DeclareSubscriber(ctx, ap.heartbeatKey, func(s *session.Sample) {
		hbPayloads = append(hbPayloads, s.Payload)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(hbPayloads) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(hbPayloads[0]))
}

func TestUndeclareReleasesEverything(t *testing.T) {
	ctx := context.Background()
	sess := fakesession.New(session.ZenohId{0x04})
	cfg := config.DefaultPublisherConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.MaxSamples = 2
	cfg.SampleMissDetection.Enabled = true
	cfg.PublisherDetection = true

	ap, err := Declare(ctx, sess, "demo/a", cfg, newSched(t))
	require.NoError(t, err)
	require.NoError(t, ap.Undeclare(ctx))
}
