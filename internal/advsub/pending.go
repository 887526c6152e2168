// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package advsub

import (
	"github.com/google/btree"

	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// pendingSample is one entry of a PerSourceSequencedState's
// `pending_samples: SortedMap<SN, Sample>` (spec.md §3), backed by a
// generic google/btree BTreeG ordered by plain numeric SN. Entries only
// ever span a small window around last_delivered, so ordinary `<`
// ordering (rather than wraparound comparison) is safe for the btree's
// total-order requirement; seqnum.Follows/Precedes still govern every
// delivery decision.
type pendingSample struct {
	sn     uint32
	sample session.Sample
}

func pendingLess(a, b pendingSample) bool { return a.sn < b.sn }

// pendingSamples is the sorted buffer of out-of-order sequenced samples
// awaiting their predecessor.
type pendingSamples struct {
	tree *btree.BTreeG[pendingSample]
}

func newPendingSamples() *pendingSamples {
	return &pendingSamples{tree: btree.NewG(32, pendingLess)}
}

func (p *pendingSamples) insert(sn uint32, sample session.Sample) {
	p.tree.ReplaceOrInsert(pendingSample{sn: sn, sample: sample})
}

func (p *pendingSamples) len() int { return p.tree.Len() }

// get returns the buffered sample for sn, if any.
func (p *pendingSamples) get(sn uint32) (session.Sample, bool) {
	item, ok := p.tree.Get(pendingSample{sn: sn})
	return item.sample, ok
}

func (p *pendingSamples) remove(sn uint32) {
	p.tree.Delete(pendingSample{sn: sn})
}

// popSmallest removes and returns the lowest-SN entry.
func (p *pendingSamples) popSmallest() (pendingSample, bool) {
	item, ok := p.tree.Min()
	if !ok {
		return pendingSample{}, false
	}
	p.tree.Delete(item)
	return item, true
}

// drainAllAscending removes every entry and returns them in ascending SN
// order.
func (p *pendingSamples) drainAllAscending() []pendingSample {
	out := make([]pendingSample, 0, p.tree.Len())
	p.tree.Ascend(func(item pendingSample) bool {
		out = append(out, item)
		return true
	})
	p.tree.Clear(false)
	return out
}

// tsEntry is one entry of a PerSourceTimestampedState's pending buffer,
// ordered by (seconds, fraction) lexicographically (spec.md §3).
type tsEntry struct {
	ts     session.Timestamp
	sample session.Sample
}

func tsLess(a, b tsEntry) bool { return a.ts.Compare(b.ts) < 0 }

type pendingTimestamped struct {
	tree *btree.BTreeG[tsEntry]
}

func newPendingTimestamped() *pendingTimestamped {
	return &pendingTimestamped{tree: btree.NewG(32, tsLess)}
}

func (p *pendingTimestamped) insert(ts session.Timestamp, sample session.Sample) {
	p.tree.ReplaceOrInsert(tsEntry{ts: ts, sample: sample})
}

func (p *pendingTimestamped) len() int { return p.tree.Len() }

func (p *pendingTimestamped) drainAllAscending() []tsEntry {
	out := make([]tsEntry, 0, p.tree.Len())
	p.tree.Ascend(func(item tsEntry) bool {
		out = append(out, item)
		return true
	})
	p.tree.Clear(false)
	return out
}
