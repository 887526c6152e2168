// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/advpub"
	"github.com/zenoh-io/advanced-pubsub-go/internal/fakesession"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

func TestDeclareDeliversLivePublishedSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := fakesession.New(session.ZenohId{0x10})
	sched := scheduler.New(ctx, "test")

	var received []session.Sample
	as, err := Declare(ctx, sess, "demo/topic", config.DefaultSubscriberConfig(), sched, func(s *session.Sample) {
		received = append(received, *s)
	})
	require.NoError(t, err)
	defer as.Undeclare(ctx)

	pubCfg := config.DefaultPublisherConfig()
	pubCfg.PublisherDetection = false
	ap, err := advpub.Declare(ctx, sess, "demo/topic", pubCfg, sched)
	require.NoError(t, err)
	defer ap.Undeclare(ctx)

	require.NoError(t, ap.Put(ctx, []byte("hello"), nil))

	require.Len(t, received, 1)
	require.Equal(t, []byte("hello"), received[0].Payload)
}

func TestUndeclareStopsFurtherDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := fakesession.New(session.ZenohId{0x11})
	sched := scheduler.New(ctx, "test")

	var received []session.Sample
	as, err := Declare(ctx, sess, "demo/topic", config.DefaultSubscriberConfig(), sched, func(s *session.Sample) {
		received = append(received, *s)
	})
	require.NoError(t, err)

	require.NoError(t, as.Undeclare(ctx))
	require.True(t, as.state.IsDropped())

	as.handleSample(ctx, seqSample(0, 0xCC))
	require.Empty(t, received)
}

func TestInitialHistoryQueryReplaysCachedSamples(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := fakesession.New(session.ZenohId{0x12})
	sched := scheduler.New(ctx, "test")

	pubCfg := config.DefaultPublisherConfig()
	pubCfg.Cache.Enabled = true
	pubCfg.Cache.MaxSamples = 16
	pubCfg.SampleMissDetection.Enabled = true
	pubCfg.PublisherDetection = false
	ap, err := advpub.Declare(ctx, sess, "demo/topic", pubCfg, sched)
	require.NoError(t, err)
	defer ap.Undeclare(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, ap.Put(ctx, []byte{byte(i)}, nil))
	}

	var received []session.Sample
	subCfg := config.DefaultSubscriberConfig()
	subCfg.History.Enabled = true
	subCfg.History.DetectLatePublishers = false
	subCfg.Recovery.Enabled = false
	as, err := Declare(ctx, sess, "demo/topic", subCfg, sched, func(s *session.Sample) {
		received = append(received, *s)
	})
	require.NoError(t, err)
	defer as.Undeclare(ctx)

	require.Eventually(t, func() bool {
		as.state.mu.Lock()
		defer as.state.mu.Unlock()
		return len(received) == 5
	}, time.Second, time.Millisecond, "initial history query must replay every cached sample")

	for i, s := range received {
		require.Equal(t, uint32(i), s.SourceInfo.SN)
	}
}
