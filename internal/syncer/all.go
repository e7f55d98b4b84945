package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProjectResult is one project's outcome within SyncAll.
type ProjectResult struct {
	ProjectID string
	Report    *Report
	Err       error
}

// SyncAll syncs every project, at most Options.Concurrency at a time. A
// failing or busy project does not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) ([]ProjectResult, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	results := make([]ProjectResult, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, p := range projects {
		results[i].ProjectID = p.ID
		g.Go(func() error {
			report, err := s.Sync(gctx, p.ID)
			results[i].Report = report
			results[i].Err = err
			if err != nil && !errors.Is(err, ErrAlreadySyncing) {
				s.log.Error("Project sync failed", "project", p.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// RunScheduler calls SyncAll immediately and then every interval until ctx
// is cancelled.
func (s *Syncer) RunScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.log.Info("Scheduler started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results, err := s.SyncAll(ctx)
		if err != nil {
			s.log.Error("Scheduled sync failed", "error", err)
		} else {
			busy := 0
			for _, r := range results {
				if errors.Is(r.Err, ErrAlreadySyncing) {
					busy++
				}
			}
			s.log.Info("Scheduled sync finished", "projects", len(results), "busy", busy)
		}

		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}
