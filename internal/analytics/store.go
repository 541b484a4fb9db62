// Package analytics is an append-only archival sink for terminated Tasks
// (write-behind observability, not part of Task/Session semantics). It
// issues hand-written SQL through pgx directly rather than sqlc-generated
// queries, since this store's schema is a single table with no
// cross-entity joins.
package analytics

import (
	"context"
	"fmt"
	"time"

	"deepresearch.app/core/core/db"
	"deepresearch.app/core/internal/research"
)

// Record is one archived task outcome.
type Record struct {
	TaskID       int64
	SessionID    *int64
	Phase        string
	TokensUsed   int
	SourcesFound int
	Duration     time.Duration
	Outcome      research.TaskStatus
}

// Store appends task-completion records to the `task_runs` table.
//
// Expected schema:
//
//	CREATE TABLE task_runs (
//	    id            BIGSERIAL PRIMARY KEY,
//	    task_id       BIGINT NOT NULL,
//	    session_id    BIGINT,
//	    phase         TEXT NOT NULL,
//	    tokens_used   INTEGER NOT NULL DEFAULT 0,
//	    sources_found INTEGER NOT NULL DEFAULT 0,
//	    duration_ms   BIGINT NOT NULL,
//	    outcome       TEXT NOT NULL,
//	    recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type Store struct {
	db *db.DB
}

func New(database *db.DB) *Store {
	return &Store{db: database}
}

// AppendTask adapts a terminated Task's fields to Append, matching the
// registry.Archiver interface so the registry need not import this package's
// Record type directly.
func (s *Store) AppendTask(ctx context.Context, taskID int64, sessionID *int64, phase string, tokensUsed, sourcesFound int, duration time.Duration, outcome research.TaskStatus) error {
	return s.Append(ctx, Record{
		TaskID:       taskID,
		SessionID:    sessionID,
		Phase:        phase,
		TokensUsed:   tokensUsed,
		SourcesFound: sourcesFound,
		Duration:     duration,
		Outcome:      outcome,
	})
}

// Append writes one record. Failures here never affect Task/Session state;
// the registry logs and moves on.
func (s *Store) Append(ctx context.Context, rec Record) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO task_runs (task_id, session_id, phase, tokens_used, sources_found, duration_ms, outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.TaskID, rec.SessionID, rec.Phase, rec.TokensUsed, rec.SourcesFound, rec.Duration.Milliseconds(), string(rec.Outcome))
	if err != nil {
		return fmt.Errorf("appending task run record: %w", err)
	}
	return nil
}

// RecentBySession lists the most recent archived task runs for a session,
// newest first, bounded by limit.
func (s *Store) RecentBySession(ctx context.Context, sessionID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Pool().Query(ctx, `
		SELECT task_id, session_id, phase, tokens_used, sources_found, duration_ms, outcome
		FROM task_runs
		WHERE session_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing task runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var durationMS int64
		var outcome string
		if err := rows.Scan(&rec.TaskID, &rec.SessionID, &rec.Phase, &rec.TokensUsed, &rec.SourcesFound, &durationMS, &outcome); err != nil {
			return nil, fmt.Errorf("scanning task run: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Outcome = research.TaskStatus(outcome)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task runs: %w", err)
	}
	return out, nil
}
