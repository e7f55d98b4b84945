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

// CreateProject inserts a new idle project.
func (db *DB) CreateProject(ctx context.Context, name string) (*feedback.Project, error) {
	p := &feedback.Project{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now(),
	}
	_, err := db.conn.ExecContext(ctx, db.rebind(
		`INSERT INTO projects (id, name, sync_in_progress, created_at) VALUES (?, ?, ?, ?)`),
		p.ID, p.Name, false, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

// GetProject returns a project by id, or ErrNotFound.
func (db *DB) GetProject(ctx context.Context, id string) (*feedback.Project, error) {
	row := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT id, name, sync_in_progress, sync_started_at, created_at FROM projects WHERE id = ?`), id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading project: %w", err)
	}
	return p, nil
}

// FindProject resolves a project by id or, failing that, by exact name.
func (db *DB) FindProject(ctx context.Context, idOrName string) (*feedback.Project, error) {
	p, err := db.GetProject(ctx, idOrName)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return p, err
	}
	row := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT id, name, sync_in_progress, sync_started_at, created_at FROM projects
		WHERE name = ? ORDER BY created_at LIMIT 1`), idOrName)
	p, err = scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", idOrName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, oldest first.
func (db *DB) ListProjects(ctx context.Context) ([]feedback.Project, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, sync_in_progress, sync_started_at, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []feedback.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project together with its sources, items and
// analyses in one transaction.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback() //nolint: errcheck

	for _, table := range []string{"analyses", "items", "sources"} {
		if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM "+table+" WHERE project_id = ?"), id); err != nil {
			return fmt.Errorf("deleting %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, db.rebind("DELETE FROM projects WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// TryAcquireSyncLock marks the project as syncing only if it is currently
// idle. It is a single conditional UPDATE; false means another run holds it.
func (db *DB) TryAcquireSyncLock(ctx context.Context, projectID string, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE projects SET sync_in_progress = ?, sync_started_at = ?
		WHERE id = ? AND sync_in_progress = ?`),
		true, at.UTC(), projectID, false,
	)
	if err != nil {
		return false, fmt.Errorf("acquiring sync lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquiring sync lock: %w", err)
	}
	return n == 1, nil
}

// StealSyncLock overwrites a lock believed to be abandoned. The update only
// applies while the lock still carries the start time the caller observed,
// so two callers recovering the same stale lock cannot both win.
func (db *DB) StealSyncLock(ctx context.Context, projectID string, observedStart *time.Time, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if observedStart == nil {
		res, err = db.conn.ExecContext(ctx, db.rebind(
			`UPDATE projects SET sync_in_progress = ?, sync_started_at = ?
			WHERE id = ? AND sync_in_progress = ? AND sync_started_at IS NULL`),
			true, at.UTC(), projectID, true,
		)
	} else {
		res, err = db.conn.ExecContext(ctx, db.rebind(
			`UPDATE projects SET sync_in_progress = ?, sync_started_at = ?
			WHERE id = ? AND sync_in_progress = ? AND sync_started_at = ?`),
			true, at.UTC(), projectID, true, observedStart.UTC(),
		)
	}
	if err != nil {
		return false, fmt.Errorf("recovering stale sync lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("recovering stale sync lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseSyncLock unconditionally marks the project idle.
func (db *DB) ReleaseSyncLock(ctx context.Context, projectID string) error {
	_, err := db.conn.ExecContext(ctx, db.rebind(
		`UPDATE projects SET sync_in_progress = ? WHERE id = ?`), false, projectID)
	if err != nil {
		return fmt.Errorf("releasing sync lock: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*feedback.Project, error) {
	var (
		p       feedback.Project
		started sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SyncInProgress, &started, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.SyncStartedAt = timePtr(started)
	return &p, nil
}

// now returns the current time in UTC, truncated to microseconds so values
// survive a round trip through PostgreSQL unchanged.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
