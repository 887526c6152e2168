// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package scheduler runs periodic recovery and heartbeat tasks as supervised
// background services instead of ad hoc goroutines-with-tickers, grounded
// on the suture supervisor tree the teacher repo uses for its background
// services. Tasks are added/removed by a TaskID, mirroring spec.md's
// `periodic_query_id: Option<TaskId>` (§3) and "periodic tasks are removed
// by id during subscriber drop" (§5).
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
)

// TaskID identifies a scheduled periodic task; it is exactly a
// suture.ServiceToken under the hood.
type TaskID = suture.ServiceToken

// Scheduler supervises periodic tasks. One Scheduler per process is
// typical; an AdvancedSubscriber's per-source periodic recovery tasks and
// an AdvancedPublisher's heartbeat task can all share one.
type Scheduler struct {
	sup *suture.Supervisor
}

// New builds a Scheduler and starts its supervisor tree in the background,
// bound to ctx: canceling ctx stops every task the Scheduler is running.
func New(ctx context.Context, name string) *Scheduler {
	scopedLogger := logging.Logger().With().Str("component", "scheduler").Str("scheduler", name).Logger()
	slogLogger := slog.New(logging.NewSlogHandlerWithLogger(scopedLogger))
	handler := &sutureslog.Handler{Logger: slogLogger}

	sup := suture.New(name, suture.Spec{
		EventHook: handler.MustHook(),
	})
	s := &Scheduler{sup: sup}
	go sup.Serve(ctx)
	return s
}

// periodicTask runs fn every period until its context is canceled. It
// never lets a panic inside fn escape the tick loop, per spec.md §4.9's
// "fatal errors never propagate from background tasks to the user thread".
type periodicTask struct {
	period time.Duration
	fn     func(ctx context.Context)
}

func (t *periodicTask) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *periodicTask) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().Interface("panic", r).Msg("scheduler: periodic task panicked, tick skipped")
		}
	}()
	t.fn(ctx)
}

// AddPeriodic schedules fn to run every period, returning a TaskID that
// Remove accepts. fn receives a context canceled when the task is removed
// or the scheduler is stopped.
func (s *Scheduler) AddPeriodic(period time.Duration, fn func(ctx context.Context)) TaskID {
	return s.sup.Add(&periodicTask{period: period, fn: fn})
}

// Remove cancels and removes the task identified by id, blocking until it
// has fully stopped (spec.md §5 "any tick currently executing completes
// under the weak-upgrade check").
func (s *Scheduler) Remove(id TaskID) error {
	return s.sup.RemoveAndWait(id, 0)
}
