package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/db"
)

const (
	historyBufferSize    = 256
	historyFlushInterval = 2 * time.Second
	historyFlushBatch    = 32
)

// HistoryWriter is an async, buffered writer for the append-only
// BookingHistory journal. Journal writes must never block an operation's
// success path: Append enqueues and returns immediately; a
// full buffer drops the entry with a warning rather than applying
// backpressure to the caller.
type HistoryWriter struct {
	dbtx    db.DBTX
	logger  *slog.Logger
	entries chan HistoryEntry
	wg      sync.WaitGroup
}

// NewHistoryWriter creates a HistoryWriter. Call Start to begin flushing.
func NewHistoryWriter(dbtx db.DBTX, logger *slog.Logger) *HistoryWriter {
	return &HistoryWriter{
		dbtx:    dbtx,
		logger:  logger,
		entries: make(chan HistoryEntry, historyBufferSize),
	}
}

// Start launches the background flush loop in a goroutine and returns
// immediately. The loop exits once ctx is cancelled or Close is called,
// after flushing any buffered entries.
func (w *HistoryWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for the background loop to drain and flush.
func (w *HistoryWriter) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Append enqueues a history entry. Never blocks.
func (w *HistoryWriter) Append(entry HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("booking history buffer full, dropping entry",
			"booking_id", entry.BookingID, "event_type", entry.EventType)
	}
}

func (w *HistoryWriter) run(ctx context.Context) {
	ticker := time.NewTicker(historyFlushInterval)
	defer ticker.Stop()

	batch := make([]HistoryEntry, 0, historyFlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= historyFlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// ListByBooking returns up to limit history entries for bookingID, ordered
// ascending by (timestamp, id) so pagination can resume from the last row a
// caller saw. When hasAfter is true, only entries strictly after
// (afterTimestamp, afterID) are returned.
func (w *HistoryWriter) ListByBooking(ctx context.Context, bookingID uuid.UUID, hasAfter bool, afterTimestamp time.Time, afterID int64, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT id, booking_id, event_type, before_state, after_state, changes, actor, source, timestamp, metadata
		FROM booking_history WHERE booking_id = $1`
	args := []any{bookingID}
	if hasAfter {
		query += fmt.Sprintf(" AND (timestamp, id) > ($%d, $%d)", len(args)+1, len(args)+2)
		args = append(args, afterTimestamp, afterID)
	}
	query += fmt.Sprintf(" ORDER BY timestamp ASC, id ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := w.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing booking history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var before, after, changes, metadata []byte
		if err := rows.Scan(&e.ID, &e.BookingID, &e.EventType, &before, &after, &changes,
			&e.Actor, &e.Source, &e.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scanning booking history row: %w", err)
		}
		if len(before) > 0 {
			var b Booking
			if err := json.Unmarshal(before, &b); err == nil {
				e.Before = &b
			}
		}
		if len(after) > 0 {
			var a Booking
			if err := json.Unmarshal(after, &a); err == nil {
				e.After = &a
			}
		}
		if len(changes) > 0 {
			_ = json.Unmarshal(changes, &e.Changes)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (w *HistoryWriter) flush(entries []HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		changes, _ := json.Marshal(e.Changes)
		before, _ := json.Marshal(e.Before)
		after, _ := json.Marshal(e.After)
		metadata, _ := json.Marshal(e.Metadata)

		_, err := w.dbtx.Exec(ctx, `
			INSERT INTO booking_history (booking_id, event_type, before_state, after_state, changes, actor, source, timestamp, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			e.BookingID, e.EventType, before, after, changes, e.Actor, e.Source, e.Timestamp, metadata)
		if err != nil {
			w.logger.Error("writing booking history entry", "error", err,
				"booking_id", e.BookingID, "event_type", e.EventType)
		}
	}
}
