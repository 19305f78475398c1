package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/streampulse/collector/chat"
)

// Run is one row of collection history.
type Run struct {
	RequestID     string    `json:"request_id"`
	ChannelID     string    `json:"channel_id"`
	StreamEventID string    `json:"stream_event_id"`
	Status        string    `json:"status"`
	MessageCount  int       `json:"message_count"`
	Interrupted   bool      `json:"interrupted"`
	Delivered     bool      `json:"delivered"`
	ErrorKind     string    `json:"error_kind"`
	Error         string    `json:"error,omitempty"`
	DeliveryError string    `json:"delivery_error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

// RunStore persists finished collections. It satisfies chat.Recorder.
type RunStore struct {
	DB *sql.DB
}

// NewRunStore wraps an open, migrated database.
func NewRunStore(db *sql.DB) *RunStore { return &RunStore{DB: db} }

// RecordRun inserts the outcome; a repeated request id keeps the first row.
func (s *RunStore) RecordRun(ctx context.Context, o chat.Outcome) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO collection_runs (request_id, channel_id, stream_event_id, status, message_count,
			interrupted, delivered, error_kind, error, delivery_error, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (request_id) DO NOTHING`,
		o.RequestID, o.ChannelID, o.StreamEventID, string(o.Status), len(o.Result.Messages),
		o.Result.Interrupted, o.Delivered, o.Kind().String(), errString(o.Err), errString(o.DeliveryErr),
		o.StartedAt, o.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert collection run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, optionally for one channel.
func (s *RunStore) ListRuns(ctx context.Context, channelID string, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT request_id, channel_id, stream_event_id, status, message_count, interrupted, delivered,
			error_kind, COALESCE(error, ''), COALESCE(delivery_error, ''), started_at, finished_at
		FROM collection_runs
		WHERE ($1 = '' OR channel_id = $1)
		ORDER BY finished_at DESC
		LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query collection runs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	out := make([]Run, 0, limit)
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RequestID, &r.ChannelID, &r.StreamEventID, &r.Status, &r.MessageCount,
			&r.Interrupted, &r.Delivered, &r.ErrorKind, &r.Error, &r.DeliveryError, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan collection run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneRuns deletes runs that finished before cutoff and returns how many were removed.
func (s *RunStore) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM collection_runs WHERE finished_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune collection runs: %w", err)
	}
	return res.RowsAffected()
}

// Ping reports whether the database is reachable.
func (s *RunStore) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func errString(err error) sql.NullString {
	if err == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: err.Error(), Valid: true}
}
