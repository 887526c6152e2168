// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package pubcache

import "github.com/zenoh-io/advanced-pubsub-go/session"

// ring is a fixed-capacity circular buffer of samples in arrival order;
// pushing past capacity evicts the oldest entry (spec.md §3 "bounded ring
// of up to max_samples samples... oldest evicted on overflow").
type ring struct {
	buf   []session.Sample
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]session.Sample, capacity)}
}

func (r *ring) capacity() int { return len(r.buf) }

func (r *ring) len() int { return r.size }

// push inserts s, evicting and returning (evicted, true) if the ring was
// already full.
func (r *ring) push(s session.Sample) (session.Sample, bool) {
	capacity := len(r.buf)
	if r.size < capacity {
		idx := (r.start + r.size) % capacity
		r.buf[idx] = s
		r.size++
		return session.Sample{}, false
	}

	evicted := r.buf[r.start]
	r.buf[r.start] = s
	r.start = (r.start + 1) % capacity
	return evicted, true
}

// at returns the i-th newest entry: at(0) is the most recently pushed
// sample, at(len()-1) is the oldest.
func (r *ring) at(i int) session.Sample {
	capacity := len(r.buf)
	idx := (r.start + r.size - 1 - i + capacity) % capacity
	return r.buf[idx]
}
