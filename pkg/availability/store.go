package availability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hopgate/carbroker/internal/db"
)

// Store persists AvailabilityJob and AvailabilityResult rows.
type Store struct {
	dbtx     db.DBTX
	beginner db.Beginner
	pollStep time.Duration
}

// NewStore creates an availability Store.
func NewStore(dbtx db.DBTX, beginner db.Beginner) *Store {
	return &Store{dbtx: dbtx, beginner: beginner, pollStep: defaultPollStep}
}

// SetPollStep overrides the granularity GetJobSince sleeps at between
// re-reads while long-polling. Values outside (0, 1s] are ignored.
func (s *Store) SetPollStep(d time.Duration) {
	if d > 0 && d <= time.Second {
		s.pollStep = d
	}
}

// CreateJob inserts a new job, RUNNING if expectedSources > 0 else
// COMPLETE, and returns its ID.
func (s *Store) CreateJob(ctx context.Context, agentID uuid.UUID, criteria Criteria, expectedSources int) (uuid.UUID, error) {
	status := JobRunning
	if expectedSources == 0 {
		status = JobComplete
	}

	criteriaJSON, err := json.Marshal(criteria)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshaling criteria: %w", err)
	}

	id := uuid.New()
	_, err = s.dbtx.Exec(ctx, `
		INSERT INTO availability_jobs (id, agent_id, criteria, expected_sources, status, last_seq, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, now())`,
		id, agentID, criteriaJSON, expectedSources, status)
	if err != nil {
		return uuid.Nil, fmt.Errorf("creating availability job: %w", err)
	}
	return id, nil
}

// AppendPartial allocates a contiguous block of seq numbers for items (one
// synthetic marker row if items is empty) and commits them atomically. The
// block allocation itself is a single UPDATE ... RETURNING against the
// job's last_seq counter, which Postgres serializes per row without an
// explicit application-level lock.
//
// markerKind is only consulted when offers is empty; it must be one of
// ErrorTimeout, ErrorSourceError, or ErrorNoResult.
func (s *Store) AppendPartial(ctx context.Context, jobID, sourceID uuid.UUID, offers []Offer, markerKind ResultErrorKind) error {
	n := len(offers)
	if n == 0 {
		n = 1
	}

	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var newLastSeq int64
	err = tx.QueryRow(ctx, `
		UPDATE availability_jobs SET last_seq = last_seq + $2
		WHERE id = $1
		RETURNING last_seq`, jobID, n).Scan(&newLastSeq)
	if err != nil {
		return fmt.Errorf("allocating seq block: %w", err)
	}
	startSeq := newLastSeq - int64(n) + 1

	if len(offers) == 0 {
		marker := ResultMarker{Error: markerKind, SourceID: sourceID}
		payload, _ := json.Marshal(marker)
		if _, err := tx.Exec(ctx, `
			INSERT INTO availability_results (job_id, seq, source_id, is_marker, payload)
			VALUES ($1, $2, $3, true, $4)`, jobID, startSeq, sourceID, payload); err != nil {
			return fmt.Errorf("inserting marker result: %w", err)
		}
	} else {
		for i, o := range offers {
			o.SourceID = sourceID
			payload, _ := json.Marshal(o)
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_results (job_id, seq, source_id, is_marker, payload)
				VALUES ($1, $2, $3, false, $4)`, jobID, startSeq+int64(i), sourceID, payload); err != nil {
				return fmt.Errorf("inserting offer result: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append tx: %w", err)
	}
	return nil
}

// MarkJobComplete transitions a job to COMPLETE.
func (s *Store) MarkJobComplete(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE availability_jobs SET status = $2 WHERE id = $1`, jobID, JobComplete)
	if err != nil {
		return fmt.Errorf("marking job complete: %w", err)
	}
	return nil
}

// GetJob returns a job's bookkeeping row, including its original criteria —
// the input OtaEnvelopeBuilder needs alongside a job's offers.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (Job, error) {
	var j Job
	var criteriaJSON []byte
	err := s.dbtx.QueryRow(ctx, `
		SELECT id, agent_id, criteria, expected_sources, status, created_at
		FROM availability_jobs WHERE id = $1`, jobID).
		Scan(&j.ID, &j.AgentID, &criteriaJSON, &j.ExpectedSources, &j.Status, &j.CreatedAt)
	if err != nil {
		return Job{}, fmt.Errorf("fetching availability job: %w", err)
	}
	if err := json.Unmarshal(criteriaJSON, &j.Criteria); err != nil {
		return Job{}, fmt.Errorf("unmarshaling job criteria: %w", err)
	}
	return j, nil
}

// jobSnapshot is the minimal row read repeatedly by GetJobSince's poll loop.
type jobSnapshot struct {
	status          JobStatus
	expectedSources int
}

func (s *Store) getJobSnapshot(ctx context.Context, jobID uuid.UUID) (jobSnapshot, error) {
	var js jobSnapshot
	err := s.dbtx.QueryRow(ctx, `SELECT status, expected_sources FROM availability_jobs WHERE id = $1`, jobID).
		Scan(&js.status, &js.expectedSources)
	if err != nil {
		return jobSnapshot{}, err
	}
	return js, nil
}

func (s *Store) queryResultsSince(ctx context.Context, jobID uuid.UUID, sinceSeq int64, batch int) ([]Result, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT seq, source_id, is_marker, payload FROM availability_results
		WHERE job_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, jobID, sinceSeq, batch)
	if err != nil {
		return nil, fmt.Errorf("querying results since seq: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var isMarker bool
		var payload []byte
		if err := rows.Scan(&r.Seq, &r.SourceID, &isMarker, &payload); err != nil {
			return nil, fmt.Errorf("scanning result row: %w", err)
		}
		r.JobID = jobID
		if isMarker {
			var m ResultMarker
			if err := json.Unmarshal(payload, &m); err != nil {
				return nil, fmt.Errorf("unmarshaling marker payload: %w", err)
			}
			r.Marker = &m
		} else {
			var o Offer
			if err := json.Unmarshal(payload, &o); err != nil {
				return nil, fmt.Errorf("unmarshaling offer payload: %w", err)
			}
			r.Offer = &o
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) distinctSourcesReporting(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx, `
		SELECT COUNT(DISTINCT source_id) FROM availability_results WHERE job_id = $1`, jobID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting distinct sources: %w", err)
	}
	return n, nil
}

func (s *Store) timedOutSources(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT DISTINCT source_id FROM availability_results
		WHERE job_id = $1 AND is_marker = true AND payload->>'error' = $2`, jobID, string(ErrorTimeout))
	if err != nil {
		return nil, fmt.Errorf("querying timed out sources: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning timed out source id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// defaultPollStep is the granularity GetJobSince sleeps at while waiting
// for new rows or job completion.
const defaultPollStep = 200 * time.Millisecond

// GetJobSince implements the long-poll read: it returns
// immediately if there are new rows or the job is already COMPLETE,
// otherwise it sleeps in pollStep slices until one of those becomes true
// or waitMs elapses.
func (s *Store) GetJobSince(ctx context.Context, jobID uuid.UUID, sinceSeq int64, waitMs int, batch int) (JobSinceResult, error) {
	if waitMs < 0 {
		waitMs = 0
	}
	if waitMs > 10000 {
		waitMs = 10000
	}
	deadline := time.Now().Add(time.Duration(waitMs) * time.Millisecond)

	for {
		snap, err := s.getJobSnapshot(ctx, jobID)
		if err != nil {
			if err == pgx.ErrNoRows {
				return JobSinceResult{}, fmt.Errorf("job %s not found", jobID)
			}
			return JobSinceResult{}, err
		}

		items, err := s.queryResultsSince(ctx, jobID, sinceSeq, batch)
		if err != nil {
			return JobSinceResult{}, err
		}

		if len(items) > 0 || snap.status == JobComplete || time.Now().After(deadline) || waitMs == 0 {
			return s.buildJobSinceResult(ctx, jobID, sinceSeq, items, snap)
		}

		select {
		case <-ctx.Done():
			return JobSinceResult{}, ctx.Err()
		case <-time.After(minDuration(s.pollStep, time.Until(deadline))):
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	if b < 0 {
		return 0
	}
	return b
}

func (s *Store) buildJobSinceResult(ctx context.Context, jobID uuid.UUID, sinceSeq int64, items []Result, snap jobSnapshot) (JobSinceResult, error) {
	lastSeq := sinceSeq
	for _, it := range items {
		if it.Seq > lastSeq {
			lastSeq = it.Seq
		}
	}

	responsesReceived, err := s.distinctSourcesReporting(ctx, jobID)
	if err != nil {
		return JobSinceResult{}, err
	}

	timedOut, err := s.timedOutSources(ctx, jobID)
	if err != nil {
		return JobSinceResult{}, err
	}

	return JobSinceResult{
		Status:            snap.status,
		NewItems:          items,
		LastSeq:           lastSeq,
		ResponsesReceived: responsesReceived,
		TotalExpected:     snap.expectedSources,
		TimedOutSources:   timedOut,
		AggregateETag:     aggregateETag(jobID, lastSeq, responsesReceived, snap.expectedSources, len(timedOut)),
	}, nil
}

// aggregateETag deterministically hashes the job's aggregate progress, so
// two callers observing identical state compute the same tag.
func aggregateETag(jobID uuid.UUID, lastSeq int64, responsesReceived, totalExpected, timedOutCount int) string {
	h := sha256.New()
	h.Write([]byte(jobID.String()))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.FormatInt(lastSeq, 10)))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(responsesReceived)))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(totalExpected)))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(timedOutCount)))
	return hex.EncodeToString(h.Sum(nil))
}

// PurgeExpired deletes jobs (and their results, via cascade) created before
// the TTL cutoff.
func (s *Store) PurgeExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM availability_jobs WHERE created_at < $1`, time.Now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("purging expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
