package health

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "health:excluded:"
	cacheTTL       = 5 * time.Minute
)

// Monitor is the component the fan-out engine consults before dispatching a
// call to a source. isExcluded is on the hot path of every fan-out
// decision, so it checks Redis first and only falls back to the database
// when the cache is cold; RecordMetric always goes to the database (it must
// serialize per source) and then refreshes the cache.
type Monitor struct {
	store      *Store
	rdb        *redis.Client
	logger     *slog.Logger
	thresholds Thresholds
	enabled    bool
	exclusions *prometheus.CounterVec
	slowRate   *prometheus.GaugeVec
}

// NewMonitor creates a Monitor. When enabled is false the monitor is a
// no-op: samples are dropped and no source is ever excluded. exclusions and
// slowRate may be nil (e.g. in tests); both are labeled by source_id.
func NewMonitor(store *Store, rdb *redis.Client, logger *slog.Logger, thresholds Thresholds, enabled bool, exclusions *prometheus.CounterVec, slowRate *prometheus.GaugeVec) *Monitor {
	return &Monitor{store: store, rdb: rdb, logger: logger, thresholds: thresholds.WithDefaults(), enabled: enabled, exclusions: exclusions, slowRate: slowRate}
}

// RecordMetric appends one latency sample for sourceID.
func (m *Monitor) RecordMetric(ctx context.Context, sourceID uuid.UUID, latencyMs int, success bool) error {
	if !m.enabled {
		return nil
	}
	now := time.Now()
	updated, becameExcluded, err := m.store.RecordMetric(ctx, sourceID, latencyMs, now, m.thresholds)
	if err != nil {
		return err
	}

	m.cacheSet(ctx, sourceID, updated.IsExcluded(now), updated.ExcludedUntil)

	if m.slowRate != nil {
		m.slowRate.WithLabelValues(sourceID.String()).Set(updated.SlowRate)
	}
	if becameExcluded && m.exclusions != nil {
		m.exclusions.WithLabelValues(sourceID.String()).Inc()
	}
	return nil
}

// IsExcluded reports whether sourceID is currently excluded from fan-out.
func (m *Monitor) IsExcluded(ctx context.Context, sourceID uuid.UUID) (bool, error) {
	if !m.enabled {
		return false, nil
	}
	now := time.Now()

	if val, err := m.rdb.Get(ctx, redisKey(sourceID)).Result(); err == nil {
		until, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr == nil {
			return time.Unix(until, 0).After(now), nil
		}
		m.logger.Warn("invalid value in health exclusion cache", "source_id", sourceID, "value", val)
	} else if err != redis.Nil {
		m.logger.Warn("redis health lookup failed, falling back to database", "error", err)
	}

	h, err := m.store.Get(ctx, sourceID)
	if err != nil {
		return false, err
	}
	excluded := h.IsExcluded(now)
	m.cacheSet(ctx, sourceID, excluded, h.ExcludedUntil)
	return excluded, nil
}

// Reset clears sourceID's backoff state and exclusion.
func (m *Monitor) Reset(ctx context.Context, sourceID uuid.UUID, resetBy string) (SourceHealth, error) {
	h, err := m.store.Reset(ctx, sourceID, resetBy, time.Now())
	if err != nil {
		return SourceHealth{}, err
	}
	m.cacheSet(ctx, sourceID, false, nil)
	return h, nil
}

func (m *Monitor) cacheSet(ctx context.Context, sourceID uuid.UUID, excluded bool, until *time.Time) {
	key := redisKey(sourceID)
	if !excluded || until == nil {
		// Cache a past timestamp so a stale read still resolves to
		// not-excluded rather than missing and re-hitting the DB every time.
		if err := m.rdb.Set(ctx, key, strconv.FormatInt(time.Now().Add(-time.Second).Unix(), 10), cacheTTL).Err(); err != nil {
			m.logger.Warn("failed to set health exclusion cache", "error", err)
		}
		return
	}
	ttl := time.Until(*until)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := m.rdb.Set(ctx, key, strconv.FormatInt(until.Unix(), 10), ttl).Err(); err != nil {
		m.logger.Warn("failed to set health exclusion cache", "error", err)
	}
}

func redisKey(sourceID uuid.UUID) string {
	return redisKeyPrefix + sourceID.String()
}
