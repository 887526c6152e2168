// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package advsub implements AdvancedSubscriber, SubscriberState, the two
// per-source reordering states, the recovery engine, and the miss
// notifier (spec.md §4.5-§4.9).
package advsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// MissEvent is emitted to every registered listener when nb >= 1 samples
// are irrecoverably skipped for a source (spec.md §3).
type MissEvent struct {
	Source session.EntityGlobalId
	Nb      uint32
}

// ListenerID identifies a registered miss-event listener (spec.md §4.7).
type ListenerID uint64

// PerSourceSequencedState tracks one sequenced publisher's reordering
// state (spec.md §3).
type PerSourceSequencedState struct {
	id session.EntityGlobalId

	hasLastDelivered bool
	lastDelivered    uint32

	pending       *pendingSamples
	pendingQueries uint32

	periodicTaskID *scheduler.TaskID
	queryKeyexpr   string
}

// newSequencedState builds a PerSourceSequencedState, eagerly precomputing
// query_keyexpr at creation time (SPEC_FULL.md §4 item 2: the original
// precomputes this the moment the state is created, not lazily on first
// recovery, so allocation failures surface at discovery time).
func newSequencedState(base string, id session.EntityGlobalId) (*PerSourceSequencedState, error) {
	key := keyexpr.PerSourceRecoveryKey(base, id.Zid, id.Eid)
	if key == "" {
		return nil, fmt.Errorf("advsub: failed to build query keyexpr for %s", id)
	}
	return &PerSourceSequencedState{
		id:           id,
		pending:      newPendingSamples(),
		queryKeyexpr: key,
	}, nil
}

// decPendingQueries clamps at 0 with a warning rather than wrapping
// negative (SPEC_FULL.md §4 item 6).
func (s *PerSourceSequencedState) decPendingQueries(ctx context.Context) {
	if s.pendingQueries == 0 {
		logging.Ctx(logging.ContextWithSource(ctx, s.id.String())).Warn().Msg("advsub: pending_queries underflow, clamping at 0")
		return
	}
	s.pendingQueries--
}

// PerSourceTimestampedState tracks one UHLC-only publisher's reordering
// state, keyed by ZenohId (spec.md §3).
type PerSourceTimestampedState struct {
	zid session.ZenohId

	hasLastDelivered bool
	lastDelivered    session.Timestamp

	pending        *pendingTimestamped
	pendingQueries uint32
}

func newTimestampedState(zid session.ZenohId) *PerSourceTimestampedState {
	return &PerSourceTimestampedState{zid: zid, pending: newPendingTimestamped()}
}

// SubscriberState is the reference-counted, lock-guarded state shared by
// every callback and background task of one AdvancedSubscriber (spec.md
// §3, §5 "state.mutex — guards all fields of SubscriberState").
type SubscriberState struct {
	mu sync.Mutex

	base     string
	callback func(*session.Sample)

	retransmission bool
	hasPeriod      bool
	periodMs       uint64

	historyDepth int
	historyAgeMs uint64

	queryTimeoutMs uint64

	globalPendingQueries uint32

	sequencedStates   map[session.EntityGlobalId]*PerSourceSequencedState
	timestampedStates map[session.ZenohId]*PerSourceTimestampedState

	missHandlers   map[ListenerID]func(MissEvent)
	nextListenerID uint64

	livelinessToken session.LivelinessToken

	// dropped is checked by every weak-reference upgrade: once set, all
	// background tasks and in-flight query reply handlers no-op instead of
	// touching state or invoking the user callback (spec.md §5
	// "Cancellation/timeout").
	dropped atomic.Bool
}

func newSubscriberState(base string, cb func(*session.Sample)) *SubscriberState {
	return &SubscriberState{
		base:              base,
		callback:          cb,
		sequencedStates:   make(map[session.EntityGlobalId]*PerSourceSequencedState),
		timestampedStates: make(map[session.ZenohId]*PerSourceTimestampedState),
		missHandlers:      make(map[ListenerID]func(MissEvent)),
	}
}

// IsDropped reports whether the subscriber has been undeclared.
func (s *SubscriberState) IsDropped() bool { return s.dropped.Load() }

// notifyMissLocked calls every registered listener with ev, under the state
// lock, as spec.md §4.7 requires ("Closures run under the state lock").
// Callers must already hold s.mu.
func (s *SubscriberState) notifyMissLocked(ev MissEvent) {
	for _, h := range s.missHandlers {
		h(ev)
	}
}
