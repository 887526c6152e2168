// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package advpub implements AdvancedPublisher: sequencing, optional
// caching, optional liveliness-based discovery, and optional heartbeat
// emission on top of a base publisher (spec.md §4.4).
package advpub

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/zenoh-io/advanced-pubsub-go/config"
	"github.com/zenoh-io/advanced-pubsub-go/internal/keyexpr"
	"github.com/zenoh-io/advanced-pubsub-go/internal/logging"
	"github.com/zenoh-io/advanced-pubsub-go/internal/pubcache"
	"github.com/zenoh-io/advanced-pubsub-go/internal/scheduler"
	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// Sequencing selects how an AdvancedPublisher attaches identity/ordering
// information to outgoing samples (spec.md §4.4 "Declaration").
type Sequencing uint8

const (
	// SequencingNone attaches neither source info nor a meaningful eid.
	SequencingNone Sequencing = iota
	// SequencingTimestamp relies on the session timestamp only (UHLC mode).
	SequencingTimestamp
	// SequencingSequenceNumber attaches a monotonically increasing SN.
	SequencingSequenceNumber
)

// entityIDs hands out process-unique publisher entity ids. The real zenoh
// session assigns these when a publisher is declared; this module treats
// that assignment as an internal detail of declaration.
var entityIDs atomic.Uint32

func nextEntityID() uint32 {
	return entityIDs.Add(1)
}

// AdvancedPublisher declares a base publisher plus the optional caching,
// discovery, and heartbeat machinery spec.md §4.4 describes.
type AdvancedPublisher struct {
	sess    session.Session
	base    string
	id      session.EntityGlobalId
	pub     session.Publisher
	opts    session.PublishOptions

	sequencing Sequencing
	sn         atomic.Uint32

	cache      *pubcache.PublisherCache
	liveliness session.LivelinessToken

	sched        *scheduler.Scheduler
	heartbeatKey string
	heartbeatPub session.Publisher
	heartbeatID  *scheduler.TaskID
}

// Declare implements spec.md §4.4 "Declaration".
func Declare(ctx context.Context, sess session.Session, base string, cfg config.PublisherConfig, sched *scheduler.Scheduler) (*AdvancedPublisher, error) {
	pub, err := sess.DeclarePublisher(ctx, base, publishOptionsFromCache(cfg.Cache))
	if err != nil {
		return nil, fmt.Errorf("advpub: declare base publisher on %q: %w", base, err)
	}

	sequencing := SequencingNone
	switch {
	case cfg.SampleMissDetection.Enabled:
		sequencing = SequencingSequenceNumber
	case cfg.Cache.Enabled:
		sequencing = SequencingTimestamp
	}

	eid := uint32(0)
	uhlc := sequencing != SequencingSequenceNumber
	if sequencing == SequencingSequenceNumber {
		eid = nextEntityID()
	}

	ap := &AdvancedPublisher{
		sess:       sess,
		base:       base,
		id:         session.EntityGlobalId{Zid: sess.ZID(), Eid: eid},
		pub:        pub,
		opts:       publishOptionsFromCache(cfg.Cache),
		sequencing: sequencing,
		sched:      sched,
	}

	if cfg.Cache.Enabled {
		cache, err := pubcache.Declare(ctx, sess, base, sess.ZID(), eid, uhlc, cfg.PublisherDetectionMeta, cfg.Cache.MaxSamples, ap.opts, false)
		if err != nil {
			_ = pub.Undeclare(ctx)
			return nil, fmt.Errorf("advpub: declare cache: %w", err)
		}
		ap.cache = cache
	}

	if cfg.PublisherDetection {
		key := keyexpr.PublisherKey(base, sess.ZID(), eid, uhlc, cfg.PublisherDetectionMeta)
		tok, err := sess.DeclareLivelinessToken(ctx, key)
		if err != nil {
			ap.undeclareBestEffort(ctx)
			return nil, fmt.Errorf("advpub: declare liveliness token: %w", err)
		}
		ap.liveliness = tok
	}

	if cfg.SampleMissDetection.Enabled && cfg.SampleMissDetection.HeartbeatMode != config.HeartbeatNone {
		ap.heartbeatKey = keyexpr.HeartbeatKey(base, sess.ZID(), eid, uhlc, "")
		hbPub, err := sess.DeclarePublisher(ctx, ap.heartbeatKey, ap.opts)
		if err != nil {
			ap.undeclareBestEffort(ctx)
			return nil, fmt.Errorf("advpub: declare heartbeat publisher: %w", err)
		}
		ap.heartbeatPub = hbPub
		ap.startHeartbeat(cfg.SampleMissDetection)
	}

	return ap, nil
}

func publishOptionsFromCache(c config.CacheConfig) session.PublishOptions {
	opts := session.PublishOptions{IsExpress: c.IsExpress}
	if c.CongestionControl == "BLOCK" {
		opts.CongestionControl = session.CongestionBlock
	}
	switch c.Priority {
	case "REAL_TIME":
		opts.Priority = session.PriorityRealTime
	case "INTERACTIVE_HIGH":
		opts.Priority = session.PriorityInteractiveHigh
	case "INTERACTIVE_LOW":
		opts.Priority = session.PriorityInteractiveLow
	case "DATA_HIGH":
		opts.Priority = session.PriorityDataHigh
	case "DATA_LOW":
		opts.Priority = session.PriorityDataLow
	case "BACKGROUND":
		opts.Priority = session.PriorityBackground
	default:
		opts.Priority = session.DefaultPriority
	}
	return opts
}

// ID returns this publisher's EntityGlobalId.
func (ap *AdvancedPublisher) ID() session.EntityGlobalId { return ap.id }

// attachSourceInfo implements spec.md §4.4's "Put / Delete" preamble.
func (ap *AdvancedPublisher) attachSourceInfo(sample *session.Sample) {
	ts := ap.sess.NewTimestamp()
	sample.Timestamp = &ts

	if ap.sequencing == SequencingSequenceNumber {
		sn := ap.sn.Add(1) - 1
		sample.SourceInfo = &session.SourceInfo{ID: ap.id, SN: sn}
	}
}

// Put publishes payload, attaching source info/timestamp and feeding the
// cache if caching is enabled (spec.md §4.4).
func (ap *AdvancedPublisher) Put(ctx context.Context, payload []byte, attachment []byte) error {
	sample := &session.Sample{Attachment: attachment}
	ap.attachSourceInfo(sample)

	if err := ap.pub.Put(ctx, payload, ap.opts, sample); err != nil {
		return fmt.Errorf("advpub: put: %w", err)
	}
	if ap.cache != nil {
		ap.cache.Add(*sample)
	}
	return nil
}

// Delete publishes a DELETE sample, same preamble as Put.
func (ap *AdvancedPublisher) Delete(ctx context.Context, attachment []byte) error {
	sample := &session.Sample{Attachment: attachment}
	ap.attachSourceInfo(sample)

	if err := ap.pub.Delete(ctx, ap.opts, sample); err != nil {
		return fmt.Errorf("advpub: delete: %w", err)
	}
	if ap.cache != nil {
		ap.cache.Add(*sample)
	}
	return nil
}

// startHeartbeat schedules the background heartbeat task (spec.md §4.4
// "Heartbeat emission"). Periodic sends unconditionally; Sporadic sends
// only when the SN changed since the previous tick.
func (ap *AdvancedPublisher) startHeartbeat(cfg config.SampleMissDetectionConfig) {
	period := time.Duration(cfg.HeartbeatPeriodMs) * time.Millisecond
	if period <= 0 {
		period = time.Second
	}

	var lastSent uint32
	var everSent bool

	id := ap.sched.AddPeriodic(period, func(tickCtx context.Context) {
		sn := ap.sn.Load()
		if cfg.HeartbeatMode == config.HeartbeatSporadic {
			if everSent && sn == lastSent {
				return
			}
		}
		lastSent, everSent = sn, true

		payload := make([]byte, 4)
		binary.LittleEndian.PutUint32(payload, sn)

		opts := ap.opts
		if cfg.HeartbeatMode == config.HeartbeatSporadic {
			opts.CongestionControl = session.CongestionDrop
		}

		sample := &session.Sample{}
		if err := ap.heartbeatPub.Put(tickCtx, payload, opts, sample); err != nil {
			logging.Ctx(tickCtx).Warn().Err(err).Str("key", ap.heartbeatKey).Msg("advpub: heartbeat send failed")
		}
	})
	ap.heartbeatID = &id
}

func (ap *AdvancedPublisher) undeclareBestEffort(ctx context.Context) {
	if ap.heartbeatID != nil {
		_ = ap.sched.Remove(*ap.heartbeatID)
	}
	if ap.heartbeatPub != nil {
		_ = ap.heartbeatPub.Undeclare(ctx)
	}
	if ap.liveliness != nil {
		_ = ap.liveliness.Undeclare(ctx)
	}
	if ap.cache != nil {
		_ = ap.cache.Close(ctx)
	}
	_ = ap.pub.Undeclare(ctx)
}

// Undeclare releases the liveliness token, frees the cache (dropping its
// queryable), stops any heartbeat task, and undeclares the base publisher
// (spec.md §4.4 "Undeclaration").
func (ap *AdvancedPublisher) Undeclare(ctx context.Context) error {
	if ap.heartbeatID != nil {
		if err := ap.sched.Remove(*ap.heartbeatID); err != nil {
			return fmt.Errorf("advpub: stop heartbeat task: %w", err)
		}
	}
	if ap.heartbeatPub != nil {
		if err := ap.heartbeatPub.Undeclare(ctx); err != nil {
			return fmt.Errorf("advpub: undeclare heartbeat publisher: %w", err)
		}
	}
	if ap.liveliness != nil {
		if err := ap.liveliness.Undeclare(ctx); err != nil {
			return fmt.Errorf("advpub: undeclare liveliness token: %w", err)
		}
	}
	if ap.cache != nil {
		if err := ap.cache.Close(ctx); err != nil {
			return fmt.Errorf("advpub: close cache: %w", err)
		}
	}
	if err := ap.pub.Undeclare(ctx); err != nil {
		return fmt.Errorf("advpub: undeclare base publisher: %w", err)
	}
	return nil
}
