// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"
	"time"
	"weak"

	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/metrics"
	"github.com/zenoh-io/advanced-pubsub-go/internal/queryparams"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// RecoveryEngine trigger 1: initial history query, issued once on
// subscriber declaration if history is enabled (spec.md §4.6.1).
func (as *AdvancedSubscriber) issueInitialHistoryQuery(ctx context.Context) {
	st := as.state
	st.mu.Lock()
	st.globalPendingQueries++
	st.mu.Unlock()

	key := keyexpr.HistoryKey(as.base)
	params := as.historyParams()
	metrics.RecoveryQueriesTotal.WithLabelValues("initial_history").Inc()

	getErr := as.runQuery(ctx, key, params)

	st.mu.Lock()
	if st.globalPendingQueries > 0 {
		st.globalPendingQueries--
	} else {
		logging.Ctx(ctx).Warn().Msg("advsub: global_pending_queries underflow, clamping at 0")
	}
	if getErr != nil {
		logging.Ctx(ctx).Warn().Err(getErr).Msg("advsub: initial history query failed")
	}
	if st.globalPendingQueries == 0 {
		as.flushAllSourcesLocked(ctx)
	}
	st.mu.Unlock()
}

// flushAllSourcesLocked implements spec.md §4.6.1's completion step: every
// per-source state is flushed, and a periodic task is spawned for each
// sequenced source that lacks one. Callers must hold st.mu.
func (as *AdvancedSubscriber) flushAllSourcesLocked(ctx context.Context) {
	st := as.state
	for _, s := range st.sequencedStates {
		if !s.hasLastDelivered {
			if smallest, ok := s.pending.popSmallest(); ok {
				as.deliverAndFlushLocked(s, &smallest.sample, smallest.sn)
			}
		}
		if s.periodicTaskID == nil {
			as.spawnPeriodicRecoveryLocked(s)
		}
	}
	for _, s := range st.timestampedStates {
		if !s.hasLastDelivered && s.pending.len() > 0 {
			for _, entry := range s.pending.drainAllAscending() {
				if s.hasLastDelivered && !entry.ts.After(s.lastDelivered) {
					continue
				}
				st.callback(&entry.sample)
				s.hasLastDelivered = true
				s.lastDelivered = entry.ts
			}
		}
	}
}

// RecoveryEngine trigger 2: per-source history query, issued on first
// sight of a new publisher via the liveliness subscriber (spec.md §4.6.2).
func (as *AdvancedSubscriber) issuePerSourceHistoryQuery(ctx context.Context, s *PerSourceSequencedState) {
	st := as.state
	st.mu.Lock()
	s.pendingQueries++
	key := s.queryKeyexpr
	st.mu.Unlock()

	params := as.historyParams()
	metrics.RecoveryQueriesTotal.WithLabelValues("per_source_history").Inc()
	getErr := as.runQuery(ctx, key, params)

	ctx = logging.ContextWithSource(ctx, s.id.String())
	st.mu.Lock()
	if getErr != nil {
		logging.Ctx(ctx).Warn().Err(getErr).Msg("advsub: per-source history query failed")
	}
	s.decPendingQueries(ctx)
	st.mu.Unlock()
}

// issuePerSourceTimestampedHistoryQuery is the UHLC-path sibling of
// issuePerSourceHistoryQuery (spec.md §4.5.2/§4.6.2): it queries key
// directly (the matched liveliness key, which is also where that
// publisher's cache queryable is declared) rather than building a
// PerSourceRecoveryKey, since a UHLC source has no meaningful eid segment.
func (as *AdvancedSubscriber) issuePerSourceTimestampedHistoryQuery(ctx context.Context, s *PerSourceTimestampedState, key string) {
	st := as.state
	st.mu.Lock()
	s.pendingQueries++
	st.mu.Unlock()

	params := as.historyParams()
	metrics.RecoveryQueriesTotal.WithLabelValues("per_source_history").Inc()
	getErr := as.runQuery(ctx, key, params)

	ctx = logging.ContextWithSource(ctx, s.zid.String())
	st.mu.Lock()
	if getErr != nil {
		logging.Ctx(ctx).Warn().Err(getErr).Msg("advsub: per-source timestamped history query failed")
	}
	if s.pendingQueries == 0 {
		logging.Ctx(ctx).Warn().Msg("advsub: pending_queries underflow, clamping at 0")
	} else {
		s.pendingQueries--
	}
	if s.pendingQueries == 0 && st.globalPendingQueries == 0 && !st.IsDropped() {
		for _, entry := range s.pending.drainAllAscending() {
			if s.hasLastDelivered && !entry.ts.After(s.lastDelivered) {
				continue
			}
			st.callback(&entry.sample)
			s.hasLastDelivered = true
			s.lastDelivered = entry.ts
		}
	}
	st.mu.Unlock()
}

// historyParams builds the `_anyke` + `_max` + `_time` parameter set shared
// by the initial and per-source history queries (spec.md §4.6.1/§4.6.2).
// `_time` is left open-ended on the upper bound (SPEC_FULL.md §4 item 4).
func (as *AdvancedSubscriber) historyParams() queryparams.Params {
	p := queryparams.Params{AnyKE: true}
	if as.cfg.History.MaxSamples > 0 {
		p.HasMax, p.Max = true, uint32(as.cfg.History.MaxSamples)
	}
	if as.cfg.History.MaxAgeMs > 0 {
		tr := queryparams.TimeRange{
			Start:          queryparams.Bound{Set: true, OffsetSec: -float64(as.cfg.History.MaxAgeMs) / 1000.0},
			StartInclusive: true,
			EndInclusive:   true,
		}
		p.Time = &tr
	}
	return p
}

// issueReactiveGapQueryLocked implements RecoveryEngine trigger 3 (spec.md
// §4.6.3): a = next(last_delivered); b is present only when driven by a
// heartbeat. Callers must hold st.mu; the actual network call is deferred
// to a goroutine so the lock is never held across it.
func (as *AdvancedSubscriber) issueReactiveGapQueryLocked(ctx context.Context, s *PerSourceSequencedState, heartbeatSN *uint32) {
	s.pendingQueries++
	rng := queryparams.SNRange{HasStart: true, Start: nextAfter(s)}
	if heartbeatSN != nil {
		rng.HasEnd, rng.End = true, *heartbeatSN
	}
	params := queryparams.Params{AnyKE: true, Range: &rng}
	as.issueRangeQueryAsync(ctx, "reactive_gap", s, params)
}

func nextAfter(s *PerSourceSequencedState) uint32 {
	if !s.hasLastDelivered {
		return 0
	}
	return s.lastDelivered + 1
}

// issueRangeQueryAsync runs a sequenced-range query (triggers 3 and 4)
// against s.queryKeyexpr in the background, using a weak reference to the
// owning SubscriberState so a reply arriving after subscriber drop safely
// no-ops (spec.md §5 "Cancellation/timeout", §4.6 "weak/ref-counted
// reference... no-op when the upgrade fails").
func (as *AdvancedSubscriber) issueRangeQueryAsync(ctx context.Context, trigger string, s *PerSourceSequencedState, params queryparams.Params) {
	wp := weak.Make(as.state)
	id := s.id
	key := s.queryKeyexpr

	go func() {
		metrics.RecoveryQueriesTotal.WithLabelValues(trigger).Inc()
		getErr := as.runQuery(context.Background(), key, params)

		st := wp.Value()
		if st == nil || st.IsDropped() {
			return
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		srcState, ok := st.sequencedStates[id]
		if !ok {
			return
		}
		srcCtx := logging.ContextWithSource(ctx, id.String())
		if getErr != nil {
			logging.Ctx(srcCtx).Warn().Err(getErr).Msg("advsub: range query failed")
		}
		srcState.decPendingQueries(srcCtx)
	}()
}

// spawnPeriodicRecoveryLocked implements RecoveryEngine trigger 4 (spec.md
// §4.6.4): one periodic task per sequenced source, only when has_period.
// Callers must hold st.mu.
func (as *AdvancedSubscriber) spawnPeriodicRecoveryLocked(s *PerSourceSequencedState) {
	if !as.cfg.Recovery.Enabled || !as.state.hasPeriod || as.state.periodMs == 0 {
		return
	}
	period := time.Duration(as.state.periodMs) * time.Millisecond
	wp := weak.Make(as.state)
	id := s.id

	taskID := as.sched.AddPeriodic(period, func(tickCtx context.Context) {
		st := wp.Value()
		if st == nil || st.IsDropped() {
			return
		}
		metrics.PeriodicTaskTicks.WithLabelValues(id.String()).Inc()

		st.mu.Lock()
		if st.globalPendingQueries > 0 {
			st.mu.Unlock()
			return
		}
		srcState, ok := st.sequencedStates[id]
		if !ok || srcState.pendingQueries > 0 {
			st.mu.Unlock()
			return
		}
		srcState.pendingQueries++
		key := srcState.queryKeyexpr
		rng := queryparams.SNRange{HasStart: true, Start: nextAfter(srcState)}
		st.mu.Unlock()

		params := queryparams.Params{AnyKE: true, Range: &rng}
		metrics.RecoveryQueriesTotal.WithLabelValues("periodic").Inc()
		getErr := as.runQuery(tickCtx, key, params)

		st2 := wp.Value()
		if st2 == nil || st2.IsDropped() {
			return
		}
		tickCtx = logging.ContextWithSource(tickCtx, id.String())
		st2.mu.Lock()
		if ss, ok := st2.sequencedStates[id]; ok {
			if getErr != nil {
				logging.Ctx(tickCtx).Warn().Err(getErr).Msg("advsub: periodic recovery query failed")
			}
			ss.decPendingQueries(tickCtx)
		}
		st2.mu.Unlock()
	})
	s.periodicTaskID = &taskID
}

// runQuery encodes params and issues a `get` against key using target=ALL,
// consolidation=NONE, and the subscriber's configured query_timeout_ms
// (spec.md §4.6 preamble), feeding every reply sample through the regular
// ingest path. The call runs through the subscriber's circuit breaker so a
// run of failures (spec.md §4.9 "Session closed") fails fast instead of
// hammering a collaborator that is not going to answer.
func (as *AdvancedSubscriber) runQuery(ctx context.Context, key string, params queryparams.Params) error {
	buf := make([]byte, 512)
	n, err := queryparams.Encode(buf, params)
	paramStr := ""
	if err == nil {
		paramStr = string(buf[:n])
	}

	opts := session.GetOptions{
		Parameters:    paramStr,
		Target:        session.QueryTargetAll,
		Consolidation: session.ConsolidationNone,
		TimeoutMs:     as.cfg.EffectiveQueryTimeoutMs(),
	}

	_, err = as.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, as.sess.Get(ctx, key, opts, func(r session.QueryReply) {
			if r.Err != nil {
				logging.Ctx(ctx).Warn().Err(r.Err).Str("key", key).Msg("advsub: query reply error, ignoring")
				return
			}
			if r.Sample != nil {
				as.handleSample(ctx, r.Sample)
			}
		})
	})
	return err
}
