// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Command example runs an in-process publisher and subscriber over the
// advanced pub/sub core, using the in-memory fake session as the
// transport: no real zenoh network is involved. It exposes a chi-routed
// /metrics endpoint so the prometheus counters and gauges the core
// maintains can be inspected while samples flow.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/advpub"
	"github.com/zenoh-io/advanced-pubsub-go/internal/advsub"
	"github.com/zenoh-io/advanced-pubsub-go/internal/fakesession"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// reading is the demo payload shape put/replayed on the "demo/sensors/temp" key.
type reading struct {
	ID    string  `json:"id"`
	Value float64 `json:"value"`
}

func main() {
	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess := fakesession.New(session.ZenohId{0x01})
	sched := scheduler.New(ctx, "example")

	pubCfg := config.DefaultPublisherConfig()
	pubCfg.Cache.Enabled = true
	pubCfg.Cache.MaxSamples = 32
	pubCfg.SampleMissDetection.Enabled = true
	pubCfg.SampleMissDetection.HeartbeatMode = config.HeartbeatPeriodic
	pubCfg.SampleMissDetection.HeartbeatPeriodMs = 2000

	pub, err := advpub.Declare(ctx, sess, "demo/sensors/temp", pubCfg, sched)
	if err != nil {
		logging.Fatal().Err(err).Msg("example: declare publisher")
	}
	defer pub.Undeclare(context.Background())

	subCfg := config.DefaultSubscriberConfig()
	subCfg.History.MaxSamples = 16

	missCount := 0
	sub, err := advsub.Declare(ctx, sess, "demo/sensors/temp", subCfg, sched, func(s *session.Sample) {
		var r reading
		if err := json.Unmarshal(s.Payload, &r); err != nil {
			logging.Warn().Err(err).Msg("example: malformed reading payload, dropping")
			return
		}
		logging.Info().Str("reading_id", r.ID).Float64("value", r.Value).Msg("example: received reading")
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("example: declare subscriber")
	}
	defer sub.Undeclare(context.Background())

	sub.DeclareSampleMissListener(func(ev advsub.MissEvent) {
		missCount++
		logging.Warn().Str("source", ev.Source.String()).Uint32("nb", ev.Nb).Msg("example: sample miss detected")
	})

	go publishLoop(ctx, pub)

	srv := &http.Server{Addr: ":8080", Handler: newRouter()}
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("example: metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("example: metrics server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Int("misses_observed", missCount).Msg("example: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// publishLoop emits one reading per second until ctx is canceled. Each
// reading carries a fresh uuid as its id in the JSON payload, and the
// sample's attachment holds the loop counter as a 4-byte little-endian value.
func publishLoop(ctx context.Context, pub *advpub.AdvancedPublisher) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			r := reading{ID: uuid.NewString(), Value: 20 + float64(n%10)}
			payload, err := json.Marshal(r)
			if err != nil {
				logging.Error().Err(err).Msg("example: marshal reading")
				continue
			}
			attachment := make([]byte, 4)
			binary.LittleEndian.PutUint32(attachment, uint32(n))
			if err := pub.Put(ctx, payload, attachment); err != nil {
				logging.Warn().Err(err).Msg("example: put failed")
			}
		}
	}
}
