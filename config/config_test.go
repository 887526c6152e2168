// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSubscriberConfigTimeoutFallback(t *testing.T) {
	cfg := DefaultSubscriberConfig()
	cfg.QueryTimeoutMs = 0
	assert.Equal(t, uint64(DefaultQueryTimeoutMs), cfg.EffectiveQueryTimeoutMs())

	cfg.QueryTimeoutMs = 500
	assert.Equal(t, uint64(500), cfg.EffectiveQueryTimeoutMs())
}

func TestLoadSubscriberConfigDefaultsOnly(t *testing.T) {
	cfg, err := LoadSubscriberConfig("")
	require.NoError(t, err)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, 0, cfg.History.MaxSamples)
	assert.Equal(t, uint64(DefaultQueryTimeoutMs), cfg.QueryTimeoutMs)
}

func TestLoadPublisherConfigDefaultsOnly(t *testing.T) {
	cfg, err := LoadPublisherConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, HeartbeatNone, cfg.SampleMissDetection.HeartbeatMode)
	assert.True(t, cfg.PublisherDetection)
}
