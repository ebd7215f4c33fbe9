package health

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hopgate/carbroker/internal/db"
)

// Store persists SourceHealth. Every mutating method runs inside its own
// transaction with a row lock on the source's health row (or an upsert of
// a fresh zero row), so concurrent RecordMetric calls for the same source
// serialize at the database even if two app instances race.
type Store struct {
	dbtx     db.DBTX
	beginner db.Beginner
}

// NewStore creates a health Store. dbtx is used for plain reads (Get);
// beginner must be able to start transactions on the same underlying
// connection for RecordMetric/Reset to serialize correctly.
func NewStore(dbtx db.DBTX, beginner db.Beginner) *Store {
	return &Store{dbtx: dbtx, beginner: beginner}
}

func scanHealth(row pgx.Row) (SourceHealth, error) {
	var h SourceHealth
	var excludedUntil, lastResetAt *time.Time
	var lastResetBy *string
	err := row.Scan(&h.SourceID, &h.SampleCount, &h.SlowCount, &h.SlowRate, &h.BackoffLevel,
		&excludedUntil, &lastResetBy, &lastResetAt)
	if err != nil {
		return SourceHealth{}, err
	}
	h.ExcludedUntil = excludedUntil
	h.LastResetAt = lastResetAt
	if lastResetBy != nil {
		h.LastResetBy = *lastResetBy
	}
	return h, nil
}

const healthColumns = `source_id, sample_count, slow_count, slow_rate, backoff_level,
	excluded_until, last_reset_by, last_reset_at`

// Get returns a source's current health, or a zero-value SourceHealth if no
// row exists yet.
func (s *Store) Get(ctx context.Context, sourceID uuid.UUID) (SourceHealth, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+healthColumns+` FROM source_health WHERE source_id = $1`, sourceID)
	h, err := scanHealth(row)
	if err == pgx.ErrNoRows {
		return SourceHealth{SourceID: sourceID}, nil
	}
	if err != nil {
		return SourceHealth{}, err
	}
	return h, nil
}

// RecordMetric applies one latency sample to sourceID's health row,
// recomputing slow rate and exclusion state, inside a transaction that
// locks the row for the duration — this is the serialization point the
// fan-out engine's concurrent callers rely on. becameExcluded reports
// whether this sample is what newly triggered exclusion (as opposed to the
// source already being excluded from an earlier sample).
func (s *Store) RecordMetric(ctx context.Context, sourceID uuid.UUID, latencyMs int, now time.Time, t Thresholds) (updated SourceHealth, becameExcluded bool, err error) {
	t = t.WithDefaults()

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return SourceHealth{}, false, fmt.Errorf("beginning health tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Ensure a row exists so the FOR UPDATE below always has something to
	// lock, even for a source's very first sample.
	if _, err := tx.Exec(ctx, `INSERT INTO source_health (source_id) VALUES ($1) ON CONFLICT (source_id) DO NOTHING`, sourceID); err != nil {
		return SourceHealth{}, false, fmt.Errorf("ensuring health row: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+healthColumns+` FROM source_health WHERE source_id = $1 FOR UPDATE`, sourceID)
	current, err := scanHealth(row)
	if err == pgx.ErrNoRows {
		current = SourceHealth{SourceID: sourceID}
	} else if err != nil {
		return SourceHealth{}, false, fmt.Errorf("locking health row: %w", err)
	}

	wasExcluded := current.IsExcluded(now)
	updated = applySample(current, latencyMs, now, t)
	becameExcluded = !wasExcluded && updated.IsExcluded(now)

	if err := upsertHealth(ctx, tx, updated); err != nil {
		return SourceHealth{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SourceHealth{}, false, fmt.Errorf("committing health tx: %w", err)
	}
	return updated, becameExcluded, nil
}

// Reset zeros a source's counters and exclusion state.
func (s *Store) Reset(ctx context.Context, sourceID uuid.UUID, resetBy string, now time.Time) (SourceHealth, error) {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return SourceHealth{}, fmt.Errorf("beginning health reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row (if any) to serialize with any in-flight RecordMetric.
	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT source_id FROM source_health WHERE source_id = $1 FOR UPDATE`, sourceID).Scan(&locked)
	if err != nil && err != pgx.ErrNoRows {
		return SourceHealth{}, fmt.Errorf("locking health row: %w", err)
	}

	fresh := reset(sourceID, resetBy, now)
	if err := upsertHealth(ctx, tx, fresh); err != nil {
		return SourceHealth{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return SourceHealth{}, fmt.Errorf("committing health reset tx: %w", err)
	}
	return fresh, nil
}

func upsertHealth(ctx context.Context, dbtx db.DBTX, h SourceHealth) error {
	_, err := dbtx.Exec(ctx, `
		INSERT INTO source_health (source_id, sample_count, slow_count, slow_rate, backoff_level,
			excluded_until, last_reset_by, last_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id) DO UPDATE SET
			sample_count = EXCLUDED.sample_count,
			slow_count = EXCLUDED.slow_count,
			slow_rate = EXCLUDED.slow_rate,
			backoff_level = EXCLUDED.backoff_level,
			excluded_until = EXCLUDED.excluded_until,
			last_reset_by = EXCLUDED.last_reset_by,
			last_reset_at = EXCLUDED.last_reset_at`,
		h.SourceID, h.SampleCount, h.SlowCount, h.SlowRate, h.BackoffLevel,
		h.ExcludedUntil, nullIfEmpty(h.LastResetBy), h.LastResetAt)
	if err != nil {
		return fmt.Errorf("upserting source health: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
