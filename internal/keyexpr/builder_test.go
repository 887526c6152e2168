// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package keyexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenoh-io/advanced-pubsub-go/session"
)

func zid(b byte) session.ZenohId {
	var z session.ZenohId
	z[0] = b
	return z
}

func TestPublisherKeySequenced(t *testing.T) {
	got := PublisherKey("demo/sensors", zid(0xAB), 7, false, "")
	assert.Equal(t, "demo/sensors/@adv/pub/ab/7/_", got)
}

func TestPublisherKeyUHLC(t *testing.T) {
	got := PublisherKey("demo/sensors", zid(0xAB), 0, true, "")
	assert.Equal(t, "demo/sensors/@adv/pub/ab/uhlc/_", got)
}

func TestSubscriberKeyWithMeta(t *testing.T) {
	got := SubscriberKey("demo/sensors", zid(0xCD), 3, "grp-a")
	assert.Equal(t, "demo/sensors/@adv/sub/cd/3/grp-a", got)
}

func TestHeartbeatKey(t *testing.T) {
	got := HeartbeatKey("demo", zid(0x01), 2, false, "")
	assert.Equal(t, "demo/@adv/pub/01/2/_/_hb", got)
}

func TestPerSourceRecoveryKey(t *testing.T) {
	got := PerSourceRecoveryKey("demo", zid(0x01), 2)
	assert.Equal(t, "demo/@adv/*/01/2/**", got)
}

func TestLivelinessScanAndHistoryKeys(t *testing.T) {
	assert.Equal(t, "demo/@adv/pub/**", LivelinessScanKey("demo"))
	assert.Equal(t, "demo/@adv/**", HistoryKey("demo"))
}

func TestParseLivelinessRoundTrip(t *testing.T) {
	base := "demo/sensors"
	key := PublisherKey(base, zid(0xAB), 7, false, "meta1")

	lk, ok := ParseLiveliness(base, key)
	require.True(t, ok)
	assert.Equal(t, SegPub, lk.Kind)
	assert.Equal(t, zid(0xAB), lk.Zid)
	assert.Equal(t, uint32(7), lk.Eid)
	assert.False(t, lk.UHLC)
	assert.Equal(t, "meta1", lk.Meta)
	assert.Equal(t, session.EntityGlobalId{Zid: zid(0xAB), Eid: 7}, lk.EntityGlobalID())
}

func TestParseLivelinessUHLC(t *testing.T) {
	base := "demo"
	key := PublisherKey(base, zid(0x02), 0, true, "")

	lk, ok := ParseLiveliness(base, key)
	require.True(t, ok)
	assert.True(t, lk.UHLC)
	assert.Equal(t, uint32(0), lk.Eid)
	assert.Equal(t, "", lk.Meta)
}

func TestParseLivelinessRejectsWrongBase(t *testing.T) {
	key := PublisherKey("demo/sensors", zid(0x01), 1, false, "")
	_, ok := ParseLiveliness("other/base", key)
	assert.False(t, ok)
}

func TestParseLivelinessRejectsMalformed(t *testing.T) {
	_, ok := ParseLiveliness("demo", "demo/@adv/pub/zz/1/_")
	assert.False(t, ok, "non-hex zid must be rejected")

	_, ok = ParseLiveliness("demo", "demo/@adv/oops/01/1/_")
	assert.False(t, ok, "unknown kind segment must be rejected")
}

func TestParseHeartbeatRoundTrip(t *testing.T) {
	base := "demo"
	key := HeartbeatKey(base, zid(0x09), 4, false, "")

	lk, ok := ParseHeartbeat(base, key)
	require.True(t, ok)
	assert.Equal(t, zid(0x09), lk.Zid)
	assert.Equal(t, uint32(4), lk.Eid)
}

func TestParseHeartbeatRejectsNonHeartbeatKey(t *testing.T) {
	base := "demo"
	key := PublisherKey(base, zid(0x09), 4, false, "")
	_, ok := ParseHeartbeat(base, key)
	assert.False(t, ok)
}

func TestParseHeartbeatRejectsSubscriberHeartbeatLookingKey(t *testing.T) {
	base := "demo"
	key := SubscriberKey(base, zid(0x09), 4, "") + "/_hb"
	_, ok := ParseHeartbeat(base, key)
	assert.False(t, ok, "heartbeat keys are only built under the publisher suffix")
}
