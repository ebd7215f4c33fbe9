// Package health tracks per-source latency samples and derives exclusion
// decisions the fan-out engine consults before dispatching a call to a
// source. Samples accumulate monotonically; the derived state
// (backoffLevel, excludedUntil) is rebuildable from them and is never
// treated as the source of truth on its own.
package health

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultSlowThresholdMS is the latency above which a sample counts as slow.
	DefaultSlowThresholdMS = 3000
	// DefaultSlowRateThreshold is the slow rate above which backoff escalates.
	DefaultSlowRateThreshold = 0.2
	// DefaultMinSamplesForBackoff is the minimum sample count before
	// exclusion can trigger.
	DefaultMinSamplesForBackoff = 100
	// DefaultMaxBackoffHours caps the exclusion window regardless of
	// backoffLevel.
	DefaultMaxBackoffHours = 24
)

// SourceHealth is the derived health state for one source.
type SourceHealth struct {
	SourceID      uuid.UUID
	SampleCount   int64
	SlowCount     int64
	SlowRate      float64
	BackoffLevel  int
	ExcludedUntil *time.Time
	LastResetBy   string
	LastResetAt   *time.Time
}

// IsExcluded reports whether the source is currently excluded as of now.
func (h SourceHealth) IsExcluded(now time.Time) bool {
	return h.ExcludedUntil != nil && h.ExcludedUntil.After(now)
}

// Thresholds bundles the tunables RecordMetric/exclusion decisions use.
// Zero-value fields fall back to the Default* constants via WithDefaults.
type Thresholds struct {
	SlowThresholdMS      int
	SlowRateThreshold    float64
	MinSamplesForBackoff int64
	MaxBackoffHours      int
}

// WithDefaults returns t with any zero field replaced by its default.
func (t Thresholds) WithDefaults() Thresholds {
	if t.SlowThresholdMS == 0 {
		t.SlowThresholdMS = DefaultSlowThresholdMS
	}
	if t.SlowRateThreshold == 0 {
		t.SlowRateThreshold = DefaultSlowRateThreshold
	}
	if t.MinSamplesForBackoff == 0 {
		t.MinSamplesForBackoff = DefaultMinSamplesForBackoff
	}
	if t.MaxBackoffHours == 0 {
		t.MaxBackoffHours = DefaultMaxBackoffHours
	}
	return t
}

// applySample returns a copy of h recomputed with one new sample; h itself
// is passed by value and left unchanged. Whether the sample newly started an
// exclusion is worked out by the caller (Store.RecordMetric).
func applySample(h SourceHealth, latencyMs int, now time.Time, t Thresholds) SourceHealth {
	h.SampleCount++
	if latencyMs > t.SlowThresholdMS {
		h.SlowCount++
	}
	h.SlowRate = float64(h.SlowCount) / float64(h.SampleCount)

	if h.SampleCount >= t.MinSamplesForBackoff && h.SlowRate > t.SlowRateThreshold {
		if h.BackoffLevel < 10 {
			h.BackoffLevel++
		}
		hours := 1 << uint(h.BackoffLevel)
		if hours > t.MaxBackoffHours {
			hours = t.MaxBackoffHours
		}
		until := now.Add(time.Duration(hours) * time.Hour)
		h.ExcludedUntil = &until
	} else if h.SlowRate <= t.SlowRateThreshold && h.BackoffLevel > 0 {
		h.BackoffLevel = 0
		h.ExcludedUntil = nil
	}

	return h
}

// reset zeros h's counters and exclusion state, recording who reset it and
// when.
func reset(sourceID uuid.UUID, resetBy string, now time.Time) SourceHealth {
	return SourceHealth{
		SourceID:    sourceID,
		LastResetBy: resetBy,
		LastResetAt: &now,
	}
}
