package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// InsertAnalysis appends a new analysis record. Records are never updated.
func (db *DB) InsertAnalysis(ctx context.Context, rec *feedback.AnalysisRecord) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding analysis payload: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now()
	}
	_, err = db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO analyses (id, project_id, period_start, period_end, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.ProjectID, rec.PeriodStart.UTC(), rec.PeriodEnd.UTC(), rec.CreatedAt.UTC(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("inserting analysis: %w", err)
	}
	return nil
}

// GetLatestAnalysis returns the newest analysis for a project, or nil if
// none has been recorded.
func (db *DB) GetLatestAnalysis(ctx context.Context, projectID string) (*feedback.AnalysisRecord, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT id, project_id, period_start, period_end, created_at, payload FROM analyses
		WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`), projectID)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// ListAnalyses returns up to limit analyses for a project, newest first.
func (db *DB) ListAnalyses(ctx context.Context, projectID string, limit int) ([]feedback.AnalysisRecord, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT id, project_id, period_start, period_end, created_at, payload FROM analyses
		WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`), projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	var recs []feedback.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func scanAnalysis(row rowScanner) (*feedback.AnalysisRecord, error) {
	var (
		rec     feedback.AnalysisRecord
		payload string
	)
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.PeriodStart, &rec.PeriodEnd, &rec.CreatedAt, &payload); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decoding analysis %s: %w", rec.ID, err)
	}
	rec.PeriodStart = rec.PeriodStart.UTC()
	rec.PeriodEnd = rec.PeriodEnd.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
