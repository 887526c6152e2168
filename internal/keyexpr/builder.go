// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package keyexpr builds and parses the advanced pub/sub key-expression
// surface (spec.md §4.1, §6). All functions are pure: segment concatenation
// with "/" (and, for the parsers, splitting on "/"), with no I/O and no
// shared state.
package keyexpr

import (
	"strconv"
	"strings"

	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// Well-known segments (spec.md §4.1).
const (
	SegAdv      = "@adv"
	SegPub      = "pub"
	SegSub      = "sub"
	SegUHLC     = "uhlc"
	SegNoMeta   = "_"
	SegStar     = "*"
	SegDoubleStar = "**"

	// heartbeatSuffix is appended after the publisher suffix to build the
	// dedicated heartbeat key (spec.md §4.4 only requires "a dedicated
	// heartbeat key built under the publisher suffix"; the exact leaf
	// segment is an implementation choice, fixed here for bit-exact reuse
	// by both publisher and subscriber).
	heartbeatSuffix = "_hb"
)

func join(parts ...string) string {
	return strings.Join(parts, "/")
}

// metaOrSentinel returns meta if non-empty, else the "_" sentinel.
func metaOrSentinel(meta string) string {
	if meta == "" {
		return SegNoMeta
	}
	return meta
}

// PublisherSuffix builds "@adv/pub/<zid>/(<eid>|uhlc)/(<meta>|_)" (spec.md
// §4.1). uhlc is used in place of the decimal eid when the publisher is
// timestamped-only (Sequencing=Timestamp or Sequencing=None).
func PublisherSuffix(zid session.ZenohId, eid uint32, uhlc bool, meta string) string {
	eidSeg := strconv.FormatUint(uint64(eid), 10)
	if uhlc {
		eidSeg = SegUHLC
	}
	return join(SegAdv, SegPub, zid.String(), eidSeg, metaOrSentinel(meta))
}

// SubscriberSuffix builds "@adv/sub/<zid>/<eid>/(<meta>|_)" (spec.md §4.1).
func SubscriberSuffix(zid session.ZenohId, eid uint32, meta string) string {
	return join(SegAdv, SegSub, zid.String(), strconv.FormatUint(uint64(eid), 10), metaOrSentinel(meta))
}

// PublisherKey returns "<base>/@adv/pub/<zid>/(<eid>|uhlc)/(<meta>|_)", the
// key the publisher's cache queryable and liveliness token are declared on.
func PublisherKey(base string, zid session.ZenohId, eid uint32, uhlc bool, meta string) string {
	return join(base, PublisherSuffix(zid, eid, uhlc, meta))
}

// SubscriberKey returns "<base>/@adv/sub/<zid>/<eid>/(<meta>|_)", the key
// the subscriber's own liveliness token (if any) is declared on.
func SubscriberKey(base string, zid session.ZenohId, eid uint32, meta string) string {
	return join(base, SubscriberSuffix(zid, eid, meta))
}

// HeartbeatKey returns the dedicated heartbeat key for a publisher,
// built under its publisher suffix (spec.md §4.4).
func HeartbeatKey(base string, zid session.ZenohId, eid uint32, uhlc bool, meta string) string {
	return join(PublisherKey(base, zid, eid, uhlc, meta), heartbeatSuffix)
}

// LivelinessScanKey returns "<base>/@adv/pub/**", used by a subscriber to
// discover publishers via the liveliness substrate (spec.md §6).
func LivelinessScanKey(base string) string {
	return join(base, SegAdv, SegPub, SegDoubleStar)
}

// PerSourceRecoveryKey returns "<base>/@adv/*/<zid>/<eid>/**", the key a
// subscriber targets to retransmit/replay a single source, matching either
// the "pub" or "sub" liveliness kind via the "*" wildcard (spec.md §4.1,
// §6).
func PerSourceRecoveryKey(base string, zid session.ZenohId, eid uint32) string {
	return join(base, SegAdv, SegStar, zid.String(), strconv.FormatUint(uint64(eid), 10), SegDoubleStar)
}

// HistoryKey returns "<base>/@adv/**", the key an initial history query
// targets to replay every known publisher under base (spec.md §4.6.1).
func HistoryKey(base string) string {
	return join(base, SegAdv, SegDoubleStar)
}

// LivelinessKey describes the parsed segments of a publisher or subscriber
// liveliness/discovery key (spec.md §4.5.2).
type LivelinessKey struct {
	Kind string // "pub" or "sub"
	Zid  session.ZenohId
	Eid  uint32
	UHLC bool
	Meta string // empty when the sentinel "_" was present
}

// ParseLiveliness parses a key of the form
// "<base>/@adv/<kind>/<zid>/<eid|uhlc>/<meta|_>[/...]" against the known
// base prefix, reading the segments that follow the prefix front to back
// (spec.md §4.5.2); any segments after <meta|_> are ignored. It rejects malformed keys rather than panicking; callers must
// warn and drop per spec.md's failure table.
func ParseLiveliness(base, key string) (LivelinessKey, bool) {
	prefix := join(base, SegAdv) + "/"
	if !strings.HasPrefix(key, prefix) {
		return LivelinessKey{}, false
	}
	rest := key[len(prefix):]
	segs := strings.Split(rest, "/")
	if len(segs) < 4 {
		return LivelinessKey{}, false
	}

	kind := segs[0]
	if kind != SegPub && kind != SegSub {
		return LivelinessKey{}, false
	}

	zid, err := session.ParseZenohId(segs[1])
	if err != nil {
		return LivelinessKey{}, false
	}

	var eid uint32
	uhlc := false
	if segs[2] == SegUHLC {
		uhlc = true
	} else {
		n, err := strconv.ParseUint(segs[2], 10, 32)
		if err != nil {
			return LivelinessKey{}, false
		}
		eid = uint32(n)
	}

	meta := segs[3]
	if meta == SegNoMeta {
		meta = ""
	}

	return LivelinessKey{Kind: kind, Zid: zid, Eid: eid, UHLC: uhlc, Meta: meta}, true
}

// ParseHeartbeat strips the trailing heartbeat leaf segment and parses the
// remaining publisher liveliness key (spec.md §4.5.3).
func ParseHeartbeat(base, key string) (LivelinessKey, bool) {
	if !strings.HasSuffix(key, "/"+heartbeatSuffix) {
		return LivelinessKey{}, false
	}
	pubKey := strings.TrimSuffix(key, "/"+heartbeatSuffix)
	lk, ok := ParseLiveliness(base, pubKey)
	if !ok || lk.Kind != SegPub {
		return LivelinessKey{}, false
	}
	return lk, true
}

// EntityGlobalID converts a parsed liveliness key into the EntityGlobalId
// it names. A UHLC key maps to eid 0 (spec.md §4.5.2).
func (lk LivelinessKey) EntityGlobalID() session.EntityGlobalId {
	return session.EntityGlobalId{Zid: lk.Zid, Eid: lk.Eid}
}
