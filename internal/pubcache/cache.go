// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package pubcache implements PublisherCache: a bounded ring of samples
// backing a queryable that answers late-join and recovery queries with
// filtered replay (spec.md §4.3).
package pubcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/metrics"
	"github.com/zenoh-io/advanced-pubsub-go/internal/queryparams"
	"github.com/zenoh-io/advanced-pubsub-go/internal/seqnum"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// PublisherCache is declared at a publisher's cache key; it buffers up to
// max_samples samples and answers filtered replay queries (spec.md §4.3).
// Lock ordering: outboxMu is always acquired before cacheMu (spec.md §5).
type PublisherCache struct {
	keyExpr string
	opts    session.PublishOptions

	cacheMu sync.Mutex
	ring    *ring

	outboxMu sync.Mutex
	outbox   []session.Sample

	sess       session.Session
	queryable  session.QueryableHandle
	liveliness session.LivelinessToken

	now func() time.Time
}

// Declare builds the cache-suffix key, initializes the ring and outbox,
// and declares a queryable whose handler is the filtered-replay logic
// (spec.md §4.3 "Declaration"). withLiveliness also declares a liveliness
// token on the same key (spec.md §4.4 "publisher_detection").
func Declare(
	ctx context.Context,
	sess session.Session,
	base string,
	zid session.ZenohId,
	eid uint32,
	uhlc bool,
	meta string,
	maxSamples int,
	opts session.PublishOptions,
	withLiveliness bool,
) (*PublisherCache, error) {
	if maxSamples < 1 {
		return nil, fmt.Errorf("pubcache: max_samples must be >= 1, got %d", maxSamples)
	}

	key := keyexpr.PublisherKey(base, zid, eid, uhlc, meta)
	c := &PublisherCache{
		keyExpr: key,
		opts:    opts,
		ring:    newRing(maxSamples),
		outbox:  make([]session.Sample, 0, maxSamples),
		sess:    sess,
		now:     time.Now,
	}

	qh, err := sess.DeclareQueryable(ctx, key, c.handleQuery)
	if err != nil {
		return nil, fmt.Errorf("pubcache: declare queryable on %q: %w", key, err)
	}
	c.queryable = qh

	if withLiveliness {
		tok, err := sess.DeclareLivelinessToken(ctx, key)
		if err != nil {
			_ = qh.Undeclare(ctx)
			return nil, fmt.Errorf("pubcache: declare liveliness token on %q: %w", key, err)
		}
		c.liveliness = tok
	}

	return c, nil
}

// KeyExpr returns the key this cache's queryable and liveliness token (if
// any) are declared on.
func (c *PublisherCache) KeyExpr() string { return c.keyExpr }

// Add takes ownership of sample, pushing it into the ring and evicting the
// oldest entry if full (spec.md §4.3 "Insertion (add)"). O(1).
func (c *PublisherCache) Add(sample session.Sample) {
	c.cacheMu.Lock()
	_, evicted := c.ring.push(sample)
	size := c.ring.len()
	c.cacheMu.Unlock()

	if evicted {
		metrics.CacheEvictions.WithLabelValues(c.keyExpr).Inc()
	}
	metrics.CacheSize.WithLabelValues(c.keyExpr).Set(float64(size))
}

// handleQuery implements the filtered-replay algorithm (spec.md §4.3).
func (c *PublisherCache) handleQuery(ctx context.Context, q session.QueryableQuery, reply session.Queryable) {
	params, err := queryparams.Parse(q.Parameters)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", c.keyExpr).Msg("pubcache: malformed query parameters, dropping query")
		return
	}

	now := c.safeNow(ctx)
	if now == nil {
		return
	}

	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()

	n := c.collect(params, *now)

	for i := n - 1; i >= 0; i-- {
		sample := c.outbox[i]
		if err := reply.Reply(ctx, &sample, c.opts); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("key", c.keyExpr).Msg("pubcache: reply send failed, dropping this sample")
		}
	}
	c.outbox = c.outbox[:0]

	if err := reply.Finalize(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", c.keyExpr).Msg("pubcache: finalize failed")
	}
}

// safeNow fetches the wall clock once; a failure (never expected for
// time.Now, but the indirection exists so tests can simulate it) drops the
// query silently, logged (spec.md §4.3 "Failure policy").
func (c *PublisherCache) safeNow(ctx context.Context) *time.Time {
	defer func() {
		if r := recover(); r != nil {
			logging.Ctx(ctx).Error().Interface("panic", r).Str("key", c.keyExpr).Msg("pubcache: now() fetch failed, dropping query")
		}
	}()
	t := c.now()
	return &t
}

// collect walks the ring newest-to-oldest under the cache lock, copying
// matching samples into the outbox, and returns how many were collected.
func (c *PublisherCache) collect(params queryparams.Params, now time.Time) int {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	limit := c.ring.capacity()
	if cap(c.outbox) < limit {
		limit = cap(c.outbox)
	}
	if params.HasMax && params.Max > 0 && int(params.Max) < limit {
		limit = int(params.Max)
	}

	n := 0
	for i := 0; i < c.ring.len() && n < limit; i++ {
		sample := c.ring.at(i)
		if !matchesRange(sample, params) {
			continue
		}
		if !matchesTime(sample, params, now) {
			continue
		}
		c.outbox = append(c.outbox[:n], sample)
		n++
	}
	return n
}

func matchesRange(sample session.Sample, params queryparams.Params) bool {
	if params.Range == nil {
		return true
	}
	if sample.SourceInfo == nil {
		return false
	}
	sn := sample.SourceInfo.SN
	r := params.Range
	if r.HasStart && seqnum.Precedes(r.Start, sn) {
		return false
	}
	if r.HasEnd && seqnum.Follows(r.End, sn) {
		return false
	}
	return true
}

func matchesTime(sample session.Sample, params queryparams.Params, now time.Time) bool {
	if params.Time == nil {
		return true
	}
	if sample.Timestamp == nil {
		return false
	}
	ts := ntp64ToTime(*sample.Timestamp)
	return params.Time.Contains(ts, now)
}

func ntp64ToTime(ts session.Timestamp) time.Time {
	secs := int64(ts.Seconds)
	nanos := int64(float64(ts.Fraction) / float64(1<<32) * 1e9)
	return time.Unix(secs, nanos)
}

// Close releases the liveliness token (if any), then drops the queryable —
// the cache must outlive no live query, so the queryable goes before the
// cache's own memory is freed (spec.md §4.4 "Undeclaration").
func (c *PublisherCache) Close(ctx context.Context) error {
	if c.liveliness != nil {
		if err := c.liveliness.Undeclare(ctx); err != nil {
			return fmt.Errorf("pubcache: undeclare liveliness token: %w", err)
		}
	}
	if err := c.queryable.Undeclare(ctx); err != nil {
		return fmt.Errorf("pubcache: undeclare queryable: %w", err)
	}

	c.cacheMu.Lock()
	c.ring = newRing(0)
	c.cacheMu.Unlock()

	metrics.CacheSize.DeleteLabelValues(c.keyExpr)
	return nil
}
