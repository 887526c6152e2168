// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/metrics"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/internal/seqnum"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// entityIDs hands out process-unique subscriber entity ids, used only when
// subscriber_detection advertises this subscriber as a query source
// (spec.md §4.5.2, mirroring advpub's publisher-id assignment).
var entityIDs atomic.Uint32

func nextEntityID() uint32 { return entityIDs.Add(1) }

// heartbeatQueryRate/heartbeatQueryBurst bound how often a stream of
// heartbeats can each trigger their own reactive gap query (spec.md §4.6.3):
// a publisher heartbeating every few ms while badly behind would otherwise
// have every single heartbeat re-issue a get, mirroring the per-IP limiter
// pattern a rate.Limiter gives the HTTP auth middleware this module's
// ambient stack is modeled on.
const (
	heartbeatQueryRate  = 5
	heartbeatQueryBurst = 5
)

// newQueryBreaker builds the circuit breaker guarding every outbound
// recovery/history get this subscriber issues, opening after 5 consecutive
// failures and probing again after 10s (spec.md §4.9 "Session closed":
// once a session is gone every subsequent call fails the same way, so
// there is no point retrying each one against the transport).
func newQueryBreaker(base string) *gobreaker.CircuitBreaker[struct{}] {
	settings := gobreaker.Settings{
		Name:        "advsub-query:" + base,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return gobreaker.NewCircuitBreaker[struct{}](settings)
}

// AdvancedSubscriber declares a base subscriber plus the optional history
// replay, gap recovery, and liveliness-based publisher discovery machinery
// spec.md §4.5 describes.
type AdvancedSubscriber struct {
	sess session.Session
	base string
	id   session.EntityGlobalId
	cfg  config.SubscriberConfig
	sched *scheduler.Scheduler

	state *SubscriberState

	// breaker trips after repeated outbound get failures (e.g. a session
	// stuck closed, or a flaky transport), so recovery queries fail fast
	// instead of piling up retries against a collaborator that will not
	// answer (spec.md §4.9 "Session closed").
	breaker *gobreaker.CircuitBreaker[struct{}]

	// heartbeatLimiter throttles heartbeat-triggered reactive gap queries
	// (spec.md §4.6.3); the periodic task (trigger 4) still catches up on
	// anything a dropped heartbeat trigger missed.
	heartbeatLimiter *rate.Limiter

	dataSub       session.Subscription
	livelinessSub session.Subscription
	livelinessTok session.LivelinessToken
}

// Declare implements spec.md §4.5 "Declaration": wires the main data
// subscription, the optional liveliness-based publisher scanner, the
// optional own liveliness token, and the initial history query.
func Declare(ctx context.Context, sess session.Session, base string, cfg config.SubscriberConfig, sched *scheduler.Scheduler, callback func(*session.Sample)) (*AdvancedSubscriber, error) {
	as := &AdvancedSubscriber{
		sess:  sess,
		base:  base,
		id:    session.EntityGlobalId{Zid: sess.ZID(), Eid: nextEntityID()},
		cfg:   cfg,
		sched: sched,
		state: newSubscriberState(base, callback),
	}
	as.state.retransmission = cfg.Recovery.Enabled
	as.state.hasPeriod = cfg.Recovery.LastSampleMissDetection.Enabled
	as.state.periodMs = cfg.Recovery.LastSampleMissDetection.PeriodicQueriesPeriodMs
	as.state.historyDepth = cfg.History.MaxSamples
	as.state.historyAgeMs = cfg.History.MaxAgeMs
	as.state.queryTimeoutMs = cfg.EffectiveQueryTimeoutMs()
	as.breaker = newQueryBreaker(base)
	as.heartbeatLimiter = rate.NewLimiter(rate.Limit(heartbeatQueryRate), heartbeatQueryBurst)

	sub, err := sess.DeclareSubscriber(ctx, base, func(sample *session.Sample) {
		as.onIncoming(ctx, sample)
	})
	if err != nil {
		return nil, fmt.Errorf("advsub: declare base subscriber on %q: %w", base, err)
	}
	as.dataSub = sub

	if cfg.History.DetectLatePublishers || cfg.Recovery.Enabled {
		livSub, err := sess.DeclareLivelinessSubscriber(ctx, keyexpr.LivelinessScanKey(base), func(sample *session.Sample) {
			as.onLiveliness(ctx, sample)
		})
		if err != nil {
			as.undeclareBestEffort(ctx)
			return nil, fmt.Errorf("advsub: declare liveliness subscriber: %w", err)
		}
		as.livelinessSub = livSub
	}

	if cfg.SubscriberDetection {
		key := keyexpr.SubscriberKey(base, sess.ZID(), as.id.Eid, cfg.SubscriberDetectionMeta)
		tok, err := sess.DeclareLivelinessToken(ctx, key)
		if err != nil {
			as.undeclareBestEffort(ctx)
			return nil, fmt.Errorf("advsub: declare liveliness token: %w", err)
		}
		as.livelinessTok = tok
	}

	if cfg.History.Enabled {
		go as.issueInitialHistoryQuery(ctx)
	}

	return as, nil
}

// onIncoming routes a sample arriving on the base data subscription: a
// heartbeat key is parsed and handled separately from a regular sample
// (spec.md §4.5.3); everything else goes through the ingest decision tree.
func (as *AdvancedSubscriber) onIncoming(ctx context.Context, sample *session.Sample) {
	if lk, ok := keyexpr.ParseHeartbeat(as.base, sample.KeyExpr); ok {
		as.onHeartbeat(ctx, lk, sample)
		return
	}
	as.handleSample(ctx, sample)
}

// onHeartbeat implements spec.md §4.5.3: a well-formed 4-byte little-endian
// SN triggers a bounded reactive gap query when it is ahead of
// last_delivered and no query is already in flight; anything else is
// dropped with a warning.
func (as *AdvancedSubscriber) onHeartbeat(ctx context.Context, lk keyexpr.LivelinessKey, sample *session.Sample) {
	if len(sample.Payload) == 0 {
		logging.Ctx(ctx).Warn().Str("key", sample.KeyExpr).Msg("advsub: empty heartbeat payload, dropping")
		return
	}
	hbSN, ok := decodeHeartbeatPayload(sample.Payload)
	if !ok {
		logging.Ctx(ctx).Warn().Str("key", sample.KeyExpr).Msg("advsub: malformed heartbeat payload, dropping")
		return
	}

	id := lk.EntityGlobalID()
	st := as.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.globalPendingQueries > 0 {
		return
	}
	s, existed := st.sequencedStates[id]
	if !existed {
		var err error
		s, err = newSequencedState(st.base, id)
		if err != nil {
			return
		}
		st.sequencedStates[id] = s
	}
	if s.pendingQueries > 0 {
		return
	}
	if s.hasLastDelivered && !seqnum.Follows(s.lastDelivered, hbSN) {
		return
	}
	if !as.heartbeatLimiter.Allow() {
		logging.Ctx(logging.ContextWithSource(ctx, id.String())).Debug().Msg("advsub: heartbeat query rate-limited, deferring to periodic recovery")
		return
	}

	as.issueReactiveGapQueryLocked(ctx, s, &hbSN)
	if !existed {
		as.spawnPeriodicRecoveryLocked(s)
	}
}

func decodeHeartbeatPayload(payload []byte) (uint32, bool) {
	if len(payload) != 4 {
		return 0, false
	}
	return uint32(payload[0]) | uint32(payload[1])<<8 | uint32(payload[2])<<16 | uint32(payload[3])<<24, true
}

// onLiveliness implements spec.md §4.5.2: a newly discovered publisher
// (PUT) triggers the appropriate per-source history query on first sight,
// and (for a sequenced source) starts its periodic recovery task; a
// withdrawal (DELETE) is otherwise ignored — per-source state is kept so a
// later republish can still be reconciled against last_delivered. An eid of
// literal "uhlc" maps to eid=0 and is handled via the timestamped path
// against timestampedStates, keyed by zid, not the sequenced one: a UHLC
// publisher's cache queryable lives at its own liveliness key (the one
// pubcache/advpub declare the token and queryable on), not at
// PerSourceRecoveryKey's "<eid>" segment, which is meaningless for it.
func (as *AdvancedSubscriber) onLiveliness(ctx context.Context, sample *session.Sample) {
	lk, ok := keyexpr.ParseLiveliness(as.base, sample.KeyExpr)
	if !ok {
		logging.Ctx(ctx).Warn().Str("key", sample.KeyExpr).Msg("advsub: malformed liveliness key, dropping")
		return
	}
	if sample.Kind != session.KindPut {
		return
	}

	st := as.state
	if lk.UHLC {
		st.mu.Lock()
		_, existed := st.timestampedStates[lk.Zid]
		var s *PerSourceTimestampedState
		if !existed {
			s = newTimestampedState(lk.Zid)
			st.timestampedStates[lk.Zid] = s
		}
		st.mu.Unlock()

		if existed {
			return
		}
		if as.cfg.History.Enabled {
			go as.issuePerSourceTimestampedHistoryQuery(ctx, s, sample.KeyExpr)
		}
		return
	}

	id := lk.EntityGlobalID()
	st.mu.Lock()
	_, existed := st.sequencedStates[id]
	var s *PerSourceSequencedState
	if !existed {
		var err error
		s, err = newSequencedState(st.base, id)
		if err != nil {
			st.mu.Unlock()
			return
		}
		st.sequencedStates[id] = s
		as.spawnPeriodicRecoveryLocked(s)
	} else {
		s = st.sequencedStates[id]
	}
	st.mu.Unlock()

	if existed {
		return
	}
	if as.cfg.History.Enabled {
		go as.issuePerSourceHistoryQuery(ctx, s)
	}
}

func (as *AdvancedSubscriber) undeclareBestEffort(ctx context.Context) {
	if as.livelinessTok != nil {
		_ = as.livelinessTok.Undeclare(ctx)
	}
	if as.livelinessSub != nil {
		_ = as.livelinessSub.Undeclare(ctx)
	}
	if as.dataSub != nil {
		_ = as.dataSub.Undeclare(ctx)
	}
}

// Undeclare marks the subscriber dropped (so in-flight query replies and
// periodic tasks no-op), stops every per-source periodic recovery task,
// and releases the liveliness token/subscriber/data subscription in that
// order (spec.md §4.5 "Undeclaration").
func (as *AdvancedSubscriber) Undeclare(ctx context.Context) error {
	st := as.state
	st.dropped.Store(true)

	st.mu.Lock()
	taskIDs := make([]scheduler.TaskID, 0, len(st.sequencedStates))
	for _, s := range st.sequencedStates {
		if s.periodicTaskID != nil {
			taskIDs = append(taskIDs, *s.periodicTaskID)
		}
	}
	st.mu.Unlock()

	// Removed without holding st.mu: a tick in flight may itself be
	// blocked waiting to acquire st.mu, and RemoveAndWait blocks until
	// that tick completes (spec.md §5 "any tick currently executing
	// completes under the weak-upgrade check").
	for _, id := range taskIDs {
		_ = as.sched.Remove(id)
	}

	if as.livelinessTok != nil {
		if err := as.livelinessTok.Undeclare(ctx); err != nil {
			return fmt.Errorf("advsub: undeclare liveliness token: %w", err)
		}
	}
	if as.livelinessSub != nil {
		if err := as.livelinessSub.Undeclare(ctx); err != nil {
			return fmt.Errorf("advsub: undeclare liveliness subscriber: %w", err)
		}
	}
	if as.dataSub != nil {
		if err := as.dataSub.Undeclare(ctx); err != nil {
			return fmt.Errorf("advsub: undeclare base subscriber: %w", err)
		}
	}
	return nil
}
