// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package config loads publisher/subscriber tuning from layered sources —
// programmatic defaults, an optional YAML file, then environment
// variables — using koanf, the way the teacher repo's internal/config
// package composes providers.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// HeartbeatMode selects how an AdvancedPublisher's background heartbeat
// task sends (spec.md §4.4, §6).
type HeartbeatMode string

const (
	HeartbeatNone     HeartbeatMode = "NONE"
	HeartbeatPeriodic HeartbeatMode = "PERIODIC"
	HeartbeatSporadic HeartbeatMode = "SPORADIC"
)

// CacheConfig mirrors spec.md §6 publisher-side `cache { ... }`.
type CacheConfig struct {
	Enabled           bool   `koanf:"enabled"`
	MaxSamples        int    `koanf:"max_samples"`
	CongestionControl string `koanf:"congestion_control"`
	Priority          string `koanf:"priority"`
	IsExpress         bool   `koanf:"is_express"`
}

// DefaultCacheConfig matches the original's baseline: caching off, and a
// capacity that is only meaningful once enabled.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:           false,
		MaxSamples:        1,
		CongestionControl: "DROP",
		Priority:          "DATA",
		IsExpress:         false,
	}
}

// SampleMissDetectionConfig mirrors spec.md §6 `sample_miss_detection { ... }`.
type SampleMissDetectionConfig struct {
	Enabled           bool          `koanf:"enabled"`
	HeartbeatMode     HeartbeatMode `koanf:"heartbeat_mode"`
	HeartbeatPeriodMs uint64        `koanf:"heartbeat_period_ms"`
}

func DefaultSampleMissDetectionConfig() SampleMissDetectionConfig {
	return SampleMissDetectionConfig{
		Enabled:           false,
		HeartbeatMode:     HeartbeatNone,
		HeartbeatPeriodMs: 0,
	}
}

// PublisherConfig is the full tuning surface for an AdvancedPublisher
// (spec.md §6).
type PublisherConfig struct {
	Cache                     CacheConfig               `koanf:"cache"`
	SampleMissDetection       SampleMissDetectionConfig `koanf:"sample_miss_detection"`
	PublisherDetection        bool                      `koanf:"publisher_detection"`
	PublisherDetectionMeta    string                    `koanf:"publisher_detection_metadata"`
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		Cache:               DefaultCacheConfig(),
		SampleMissDetection: DefaultSampleMissDetectionConfig(),
		PublisherDetection:  true,
	}
}

// HistoryConfig mirrors spec.md §6 subscriber-side `history { ... }`.
type HistoryConfig struct {
	Enabled             bool   `koanf:"enabled"`
	DetectLatePublishers bool  `koanf:"detect_late_publishers"`
	MaxSamples          int    `koanf:"max_samples"`
	MaxAgeMs            uint64 `koanf:"max_age_ms"`
}

func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:              true,
		DetectLatePublishers: true,
		MaxSamples:           0,
		MaxAgeMs:             0,
	}
}

// LastSampleMissDetectionConfig mirrors spec.md §6
// `recovery.last_sample_miss_detection { ... }`.
type LastSampleMissDetectionConfig struct {
	Enabled               bool   `koanf:"enabled"`
	PeriodicQueriesPeriodMs uint64 `koanf:"periodic_queries_period_ms"`
}

// RecoveryConfig mirrors spec.md §6 subscriber-side `recovery { ... }`.
type RecoveryConfig struct {
	Enabled                  bool                          `koanf:"enabled"`
	LastSampleMissDetection  LastSampleMissDetectionConfig `koanf:"last_sample_miss_detection"`
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled: true,
		LastSampleMissDetection: LastSampleMissDetectionConfig{
			Enabled:                 true,
			PeriodicQueriesPeriodMs: 1000,
		},
	}
}

// DefaultQueryTimeoutMs is used whenever query_timeout_ms is configured as
// 0 (spec.md §6 "0 ⇒ default").
const DefaultQueryTimeoutMs = 10_000

// SubscriberConfig is the full tuning surface for an AdvancedSubscriber
// (spec.md §6).
type SubscriberConfig struct {
	History                 HistoryConfig `koanf:"history"`
	Recovery                RecoveryConfig `koanf:"recovery"`
	QueryTimeoutMs          uint64        `koanf:"query_timeout_ms"`
	SubscriberDetection     bool          `koanf:"subscriber_detection"`
	SubscriberDetectionMeta string        `koanf:"subscriber_detection_metadata"`
}

func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		History:        DefaultHistoryConfig(),
		Recovery:       DefaultRecoveryConfig(),
		QueryTimeoutMs: DefaultQueryTimeoutMs,
	}
}

// EffectiveQueryTimeoutMs resolves the "0 ⇒ default" rule from spec.md §6.
func (c SubscriberConfig) EffectiveQueryTimeoutMs() uint64 {
	if c.QueryTimeoutMs == 0 {
		return DefaultQueryTimeoutMs
	}
	return c.QueryTimeoutMs
}

// LoadSubscriberConfig layers defaults, an optional YAML file, then
// environment variables prefixed "ADVSUB_" (double underscore as the
// nested-key delimiter), mirroring the teacher's internal/config load
// order: structs.Provider first, file.Provider second (only if path is
// non-empty), env.Provider last.
func LoadSubscriberConfig(path string) (SubscriberConfig, error) {
	cfg := DefaultSubscriberConfig()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return SubscriberConfig{}, fmt.Errorf("config: load subscriber defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return SubscriberConfig{}, fmt.Errorf("config: load subscriber file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("ADVSUB_", ".", envTransform("ADVSUB_")), nil); err != nil {
		return SubscriberConfig{}, fmt.Errorf("config: load subscriber env: %w", err)
	}

	var out SubscriberConfig
	if err := k.Unmarshal("", &out); err != nil {
		return SubscriberConfig{}, fmt.Errorf("config: unmarshal subscriber config: %w", err)
	}
	return out, nil
}

// LoadPublisherConfig mirrors LoadSubscriberConfig for the publisher side,
// using the "ADVPUB_" environment prefix.
func LoadPublisherConfig(path string) (PublisherConfig, error) {
	cfg := DefaultPublisherConfig()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return PublisherConfig{}, fmt.Errorf("config: load publisher defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return PublisherConfig{}, fmt.Errorf("config: load publisher file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("ADVPUB_", ".", envTransform("ADVPUB_")), nil); err != nil {
		return PublisherConfig{}, fmt.Errorf("config: load publisher env: %w", err)
	}

	var out PublisherConfig
	if err := k.Unmarshal("", &out); err != nil {
		return PublisherConfig{}, fmt.Errorf("config: unmarshal publisher config: %w", err)
	}
	return out, nil
}

func envTransform(prefix string) func(string) string {
	return func(s string) string {
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
}
