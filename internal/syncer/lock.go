package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

// ErrAlreadySyncing is returned when another run holds a fresh lock.
var ErrAlreadySyncing = errors.New("project is already syncing")

// LockStore is the repository surface behind the run lock. All writes are
// conditional updates on the project row.
type LockStore interface {
	GetProject(ctx context.Context, id string) (*feedback.Project, error)
	TryAcquireSyncLock(ctx context.Context, projectID string, at time.Time) (bool, error)
	StealSyncLock(ctx context.Context, projectID string, observedStart *time.Time, at time.Time) (bool, error)
	ReleaseSyncLock(ctx context.Context, projectID string) error
}

// RunLock guards a project against overlapping sync runs, across processes.
type RunLock struct {
	store      LockStore
	staleAfter time.Duration
	log        *logger.Logger

	Clock func() time.Time
}

// NewRunLock creates a lock that treats runs older than staleAfter as abandoned.
func NewRunLock(store LockStore, staleAfter time.Duration, log *logger.Logger) *RunLock {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &RunLock{store: store, staleAfter: staleAfter, log: logger.OrNop(log), Clock: time.Now}
}

func (l *RunLock) now() time.Time {
	return l.Clock().UTC().Truncate(time.Microsecond)
}

// Acquire takes the project's lock or returns ErrAlreadySyncing. It never
// waits for a running sync to finish.
func (l *RunLock) Acquire(ctx context.Context, projectID string) error {
	at := l.now()
	ok, err := l.store.TryAcquireSyncLock(ctx, projectID, at)
	if err != nil {
		return err
	}
	if ok {
		l.log.Info("Sync lock acquired", "project", projectID)
		return nil
	}

	p, err := l.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !p.SyncInProgress {
		// Released between the two statements; one more attempt.
		ok, err := l.store.TryAcquireSyncLock(ctx, projectID, at)
		if err != nil {
			return err
		}
		if ok {
			l.log.Info("Sync lock acquired", "project", projectID)
			return nil
		}
		return fmt.Errorf("project %s: %w", projectID, ErrAlreadySyncing)
	}

	if p.SyncStartedAt != nil && at.Sub(*p.SyncStartedAt) <= l.staleAfter {
		l.log.Info("Sync rejected, project already syncing", "project", projectID,
			"started_at", p.SyncStartedAt.Format(time.RFC3339))
		return fmt.Errorf("project %s: %w", projectID, ErrAlreadySyncing)
	}

	ok, err = l.store.StealSyncLock(ctx, projectID, p.SyncStartedAt, at)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, ErrAlreadySyncing)
	}
	started := "never"
	if p.SyncStartedAt != nil {
		started = p.SyncStartedAt.Format(time.RFC3339)
	}
	l.log.Warn("Recovered stale sync lock", "project", projectID, "stale_started_at", started,
		"threshold", l.staleAfter.String())
	return nil
}

// Release unconditionally marks the project idle.
func (l *RunLock) Release(ctx context.Context, projectID string) error {
	if err := l.store.ReleaseSyncLock(ctx, projectID); err != nil {
		l.log.Error("Failed to release sync lock", "project", projectID, "error", err)
		return err
	}
	l.log.Info("Sync lock released", "project", projectID)
	return nil
}
