// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"context"

	"github.com/zenoh-io/advanced-pubsub-go/internal/metrics"
	"github.com/zenoh-io/advanced-pubsub-go/internal/seqnum"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// handleSample implements the ingest decision tree of spec.md §4.5.1.
func (as *AdvancedSubscriber) handleSample(ctx context.Context, sample *session.Sample) {
	st := as.state
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.dropped.Load() {
		return
	}

	switch {
	case sample.SourceInfo != nil:
		as.handleSequencedLocked(ctx, sample.SourceInfo.ID, sample.SourceInfo.SN, sample)
	case sample.Timestamp != nil:
		as.handleTimestampedLocked(ctx, sample.Timestamp.Zid, *sample.Timestamp, sample)
	default:
		st.callback(sample)
	}
}

// handleSequencedLocked implements the "Sequenced path" of spec.md §4.5.1.
// Callers must hold st.mu.
func (as *AdvancedSubscriber) handleSequencedLocked(ctx context.Context, id session.EntityGlobalId, sn uint32, sample *session.Sample) {
	st := as.state
	s, existed := st.sequencedStates[id]
	newSource := !existed
	if newSource {
		var err error
		s, err = newSequencedState(st.base, id)
		if err != nil {
			return
		}
		st.sequencedStates[id] = s
	}

	switch {
	case !s.hasLastDelivered && st.globalPendingQueries > 0:
		if st.historyDepth == 1 {
			as.deliverAndFlushLocked(s, sample, sn)
		} else {
			s.pending.insert(sn, *sample)
			if st.historyDepth > 0 && s.pending.len() >= st.historyDepth {
				if smallest, ok := s.pending.popSmallest(); ok {
					as.deliverAndFlushLocked(s, &smallest.sample, smallest.sn)
				}
			}
		}

	case s.hasLastDelivered:
		next := seqnum.Next(s.lastDelivered)
		switch {
		case sn == next:
			as.deliverAndFlushLocked(s, sample, sn)
		case seqnum.Follows(next, sn):
			if st.retransmission {
				s.pending.insert(sn, *sample)
			} else {
				nb := uint32(seqnum.Diff(next, sn))
				metrics.MissEventsTotal.WithLabelValues(id.String()).Inc()
				metrics.MissedSamplesTotal.WithLabelValues(id.String()).Add(float64(nb))
				st.notifyMissLocked(MissEvent{Source: id, Nb: nb})
				st.callback(sample)
				s.lastDelivered = sn
			}
		default:
			// sn <= last_delivered: old/duplicate, dropped silently.
		}

	default:
		as.deliverAndFlushLocked(s, sample, sn)
	}

	if newSource {
		as.spawnPeriodicRecoveryLocked(s)
	}
	if st.retransmission && s.pending.len() > 0 && s.pendingQueries == 0 {
		as.issueReactiveGapQueryLocked(ctx, s, nil)
	}
}

// deliverAndFlushLocked implements spec.md §4.5.1 "deliver-and-flush".
// Callers must hold the owning SubscriberState's mu.
func (as *AdvancedSubscriber) deliverAndFlushLocked(s *PerSourceSequencedState, sample *session.Sample, sn uint32) {
	as.state.callback(sample)
	s.hasLastDelivered = true
	s.lastDelivered = sn

	for {
		next := seqnum.Next(s.lastDelivered)
		buffered, ok := s.pending.get(next)
		if !ok {
			return
		}
		as.state.callback(&buffered)
		s.pending.remove(next)
		s.lastDelivered = next
	}
}

// handleTimestampedLocked implements the "Timestamped path" of spec.md
// §4.5.1. Callers must hold st.mu.
func (as *AdvancedSubscriber) handleTimestampedLocked(ctx context.Context, zid session.ZenohId, ts session.Timestamp, sample *session.Sample) {
	st := as.state
	s, ok := st.timestampedStates[zid]
	if !ok {
		s = newTimestampedState(zid)
		st.timestampedStates[zid] = s
	}

	if s.hasLastDelivered && !ts.After(s.lastDelivered) {
		return
	}

	noPendingQueries := st.globalPendingQueries == 0 && s.pendingQueries == 0
	if noPendingQueries || st.historyDepth == 1 {
		st.callback(sample)
		s.hasLastDelivered = true
		s.lastDelivered = ts
		return
	}

	s.pending.insert(ts, *sample)
	if st.historyDepth > 0 && s.pending.len() >= st.historyDepth {
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
