package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

const sourceColumns = `id, project_id, platform, config, status, last_sync, created_at`

// AddSource attaches a new idle source to a project.
func (db *DB) AddSource(ctx context.Context, projectID string, cfg feedback.SourceConfig) (*feedback.Source, error) {
	if cfg == nil {
		return nil, feedback.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := db.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	raw, err := feedback.EncodeSourceConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding source config: %w", err)
	}
	s := &feedback.Source{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Platform:  cfg.Platform(),
		Config:    cfg,
		Status:    feedback.StatusIdle,
		CreatedAt: now(),
	}
	_, err = db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO sources (id, project_id, platform, config, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		s.ID, s.ProjectID, string(s.Platform), string(raw), string(s.Status), s.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting source: %w", err)
	}
	return s, nil
}

// GetSourcesForProject returns a project's sources in creation order.
// A source whose stored config cannot be decoded is returned with a nil Config.
func (db *DB) GetSourcesForProject(ctx context.Context, projectID string) ([]feedback.Source, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT `+sourceColumns+` FROM sources WHERE project_id = ? ORDER BY created_at, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []feedback.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *s)
	}
	return sources, rows.Err()
}

// GetSource returns a single source, or ErrNotFound.
func (db *DB) GetSource(ctx context.Context, id string) (*feedback.Source, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(`SELECT `+sourceColumns+` FROM sources WHERE id = ?`), id)
	s, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SetSourceStatus updates a source's status, leaving last_sync untouched.
func (db *DB) SetSourceStatus(ctx context.Context, sourceID string, status feedback.SourceStatus) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE sources SET status = ? WHERE id = ?`), string(status), sourceID)
	if err != nil {
		return fmt.Errorf("updating source status: %w", err)
	}
	return nil
}

// MarkSourceSynced marks a source IDLE and advances its watermark.
func (db *DB) MarkSourceSynced(ctx context.Context, sourceID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE sources SET status = ?, last_sync = ? WHERE id = ?`),
		string(feedback.StatusIdle), at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("marking source synced: %w", err)
	}
	return nil
}

// RemoveSource deletes a source. Items it ingested stay with the project.
func (db *DB) RemoveSource(ctx context.Context, sourceID string) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`DELETE FROM sources WHERE id = ?`), sourceID)
	if err != nil {
		return fmt.Errorf("deleting source: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	return nil
}

func scanSource(row rowScanner) (*feedback.Source, error) {
	var (
		s        feedback.Source
		platform string
		status   string
		raw      string
		lastSync sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.ProjectID, &platform, &raw, &status, &lastSync, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Platform = feedback.Platform(platform)
	s.Status = feedback.SourceStatus(status)
	s.LastSync = timePtr(lastSync)
	if cfg, err := feedback.DecodeSourceConfig(s.Platform, []byte(raw)); err == nil {
		s.Config = cfg
	}
	return &s, nil
}
