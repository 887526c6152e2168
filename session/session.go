// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package session defines the data model and the external collaborator
// boundary this module builds on: a Zenoh session providing put, get,
// declare_subscriber, declare_queryable, and declare_liveliness primitives,
// plus a monotonic timestamp source. The session, the wire codec, and the
// transport links are out of scope for this module (spec.md §1) — they are
// treated as a pure interface.
package session

import (
	"context"
	"encoding/hex"
	"fmt"
)

// ZenohId identifies a session/peer. Up to 16 bytes, serialized as lowercase
// hex without separators in key expressions (spec.md §6).
type ZenohId [16]byte

// String renders the id as lowercase hex with trailing zero bytes trimmed,
// matching the wire convention: a short id is the prefix that was assigned.
func (z ZenohId) String() string {
	n := len(z)
	for n > 0 && z[n-1] == 0 {
		n--
	}
	return hex.EncodeToString(z[:n])
}

// ParseZenohId parses a lowercase hex string into a ZenohId.
func ParseZenohId(s string) (ZenohId, error) {
	var z ZenohId
	b, err := hex.DecodeString(s)
	if err != nil {
		return z, fmt.Errorf("parse zenoh id %q: %w", s, err)
	}
	if len(b) > len(z) {
		return z, fmt.Errorf("parse zenoh id %q: too long (%d bytes)", s, len(b))
	}
	copy(z[:], b)
	return z, nil
}

// EntityGlobalId uniquely identifies a publisher, or an advanced subscriber
// acting as a query source (spec.md §3). Eid 0 is reserved for a
// pseudo-publisher using timestamps only (UHLC mode).
type EntityGlobalId struct {
	Zid ZenohId
	Eid uint32
}

// IsUHLC reports whether this id represents the timestamp-only pseudo-publisher.
func (id EntityGlobalId) IsUHLC() bool { return id.Eid == 0 }

func (id EntityGlobalId) String() string {
	return fmt.Sprintf("%s/%d", id.Zid, id.Eid)
}

// Timestamp is a 64-bit NTP64 timestamp: high 32 bits are seconds since the
// epoch, low 32 bits are the fraction. A (ZenohId, Timestamp) pair is unique
// per source (spec.md §3).
type Timestamp struct {
	Seconds  uint32
	Fraction uint32
	Zid      ZenohId
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after o,
// comparing (seconds, fraction) lexicographically. The source id is not
// part of the ordering; it only disambiguates identity.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Seconds < o.Seconds:
		return -1
	case t.Seconds > o.Seconds:
		return 1
	case t.Fraction < o.Fraction:
		return -1
	case t.Fraction > o.Fraction:
		return 1
	default:
		return 0
	}
}

// Before reports whether t strictly precedes o.
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

// After reports whether t strictly follows o.
func (t Timestamp) After(o Timestamp) bool { return t.Compare(o) > 0 }

// SampleKind distinguishes a put from a delete.
type SampleKind uint8

const (
	KindPut SampleKind = iota
	KindDelete
)

func (k SampleKind) String() string {
	if k == KindDelete {
		return "DELETE"
	}
	return "PUT"
}

// Encoding is an opaque, session-defined payload encoding tag.
type Encoding string

// SourceInfo carries the (EntityGlobalId, SequenceNumber) pair attached to a
// sample when the publisher sequences its stream (spec.md §3).
type SourceInfo struct {
	ID EntityGlobalId
	SN uint32
}

// Sample is the unit of data flowing through the substrate (spec.md §3).
type Sample struct {
	KeyExpr    string
	Payload    []byte
	Kind       SampleKind
	Encoding   Encoding
	Timestamp  *Timestamp
	SourceInfo *SourceInfo
	Attachment []byte
}

// CongestionControl mirrors the wire-level congestion control options a
// publisher or cache reply can request from the session.
type CongestionControl uint8

const (
	CongestionDrop CongestionControl = iota
	CongestionBlock
)

// Priority mirrors the zenoh priority lanes, highest first.
type Priority uint8

const (
	PriorityRealTime Priority = iota
	PriorityInteractiveHigh
	PriorityInteractiveLow
	PriorityDataHigh
	PriorityData
	PriorityDataLow
	PriorityBackground
)

// DefaultPriority is the priority new publishers/caches use absent
// configuration, matching zenoh's own default lane.
const DefaultPriority = PriorityData

// PublishOptions configures how a put/delete or a query reply is admitted to
// the network (congestion control, priority, express delivery).
type PublishOptions struct {
	CongestionControl CongestionControl
	Priority          Priority
	IsExpress         bool
}

// QueryTarget and QueryConsolidation are recorded on outbound recovery
// queries (spec.md §4.6): target=ALL, consolidation=NONE, always.
type QueryTarget uint8

const (
	QueryTargetAll QueryTarget = iota
)

type QueryConsolidation uint8

const (
	ConsolidationNone QueryConsolidation = iota
)

// QueryReply is one reply sample delivered to a Get callback.
type QueryReply struct {
	Sample *Sample
	Err    error
}

// GetOptions configures an outbound query.
type GetOptions struct {
	Parameters     string
	Target         QueryTarget
	Consolidation  QueryConsolidation
	TimeoutMs      uint64
}

// QueryableQuery is what a declared queryable receives per incoming get.
type QueryableQuery struct {
	KeyExpr    string
	Parameters string
}

// Queryable lets a handler reply to an inbound query and signals completion.
type Queryable interface {
	// Reply sends one sample reply with the given publish options.
	Reply(ctx context.Context, sample *Sample, opts PublishOptions) error
	// ReplyErr sends an error reply.
	ReplyErr(ctx context.Context, err error) error
	// Finalize signals there are no more replies for this query.
	Finalize() error
}

// LivelinessToken is an RAII-style handle: declaring one advertises
// existence on a key expression; Undeclare withdraws the advertisement.
type LivelinessToken interface {
	Undeclare(ctx context.Context) error
}

// Subscription is a live handle to a declared subscriber or liveliness
// subscriber; Undeclare stops delivery.
type Subscription interface {
	Undeclare(ctx context.Context) error
}

// QueryableHandle is a live handle to a declared queryable.
type QueryableHandle interface {
	Undeclare(ctx context.Context) error
}

// Publisher is the base (non-advanced) publisher primitive.
type Publisher interface {
	Put(ctx context.Context, payload []byte, opts PublishOptions, sample *Sample) error
	Delete(ctx context.Context, opts PublishOptions, sample *Sample) error
	Undeclare(ctx context.Context) error
}

// Session is the external collaborator this module builds on: scouting,
// session open/close, and the wire codec are all out of scope (spec.md §1).
// Everything below is invoked as an opaque primitive.
type Session interface {
	// ZID returns this session's own id, used to build EntityGlobalId values
	// for locally declared publishers/subscribers.
	ZID() ZenohId

	// NewTimestamp returns a fresh, session-monotonic timestamp.
	NewTimestamp() Timestamp

	// DeclarePublisher declares a base publisher on keyExpr.
	DeclarePublisher(ctx context.Context, keyExpr string, opts PublishOptions) (Publisher, error)

	// DeclareSubscriber delivers every matching sample to cb until the
	// returned Subscription is undeclared.
	DeclareSubscriber(ctx context.Context, keyExpr string, cb func(*Sample)) (Subscription, error)

	// DeclareQueryable registers a handler for incoming get requests on keyExpr.
	DeclareQueryable(ctx context.Context, keyExpr string, handler func(context.Context, QueryableQuery, Queryable)) (QueryableHandle, error)

	// DeclareLivelinessToken advertises keyExpr's existence until undeclared.
	DeclareLivelinessToken(ctx context.Context, keyExpr string) (LivelinessToken, error)

	// DeclareLivelinessSubscriber notifies cb on token declare (PUT) and
	// undeclare (DELETE) for keys intersecting keyExpr.
	DeclareLivelinessSubscriber(ctx context.Context, keyExpr string, cb func(*Sample)) (Subscription, error)

	// Get issues a pull query against keyExpr, invoking cb once per reply.
	// cb is invoked until the channel producing replies is exhausted or ctx
	// is canceled/times out.
	Get(ctx context.Context, keyExpr string, opts GetOptions, cb func(QueryReply)) error
}

// ErrSessionClosed is returned by Session methods once the backing session
// has been closed; callers must fail fast (spec.md §4.9/§7).
var ErrSessionClosed = fmt.Errorf("zenoh: session closed")
