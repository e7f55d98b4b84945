package database

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// ProjectStats summarizes a project's stored feedback.
type ProjectStats struct {
	TotalItems     int
	CriticalItems  int
	PositiveItems  int
	ByPlatform     map[feedback.Platform]int
	LatestItemAt   *time.Time
	AnalysisCount  int
	LatestAnalysis *time.Time
}

// GetProjectStats collects counts used by the status command and the
// project summary endpoint.
func (db *DB) GetProjectStats(ctx context.Context, projectID string) (*ProjectStats, error) {
	stats := &ProjectStats{ByPlatform: make(map[feedback.Platform]int)}

	var err error
	if stats.TotalItems, err = db.CountItems(ctx, projectID); err != nil {
		return nil, err
	}
	if stats.CriticalItems, err = db.CountBucket(ctx, projectID, feedback.BucketCritical); err != nil {
		return nil, err
	}
	if stats.PositiveItems, err = db.CountBucket(ctx, projectID, feedback.BucketPositive); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, db.rebind(
		`SELECT platform, COUNT(*) FROM items WHERE project_id = ? GROUP BY platform`), projectID)
	if err != nil {
		return nil, fmt.Errorf("counting items by platform: %w", err)
	}
	for rows.Next() {
		var (
			platform string
			n        int
		)
		if err := rows.Scan(&platform, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByPlatform[feedback.Platform(platform)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := db.GetRecentItems(ctx, projectID, 1)
	if err != nil {
		return nil, err
	}
	if len(recent) > 0 {
		t := recent[0].CreatedAt
		stats.LatestItemAt = &t
	}

	if err := db.conn.QueryRowContext(ctx, db.rebind(
		`SELECT COUNT(*) FROM analyses WHERE project_id = ?`), projectID).Scan(&stats.AnalysisCount); err != nil {
		return nil, fmt.Errorf("counting analyses: %w", err)
	}
	latest, err := db.GetLatestAnalysis(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		t := latest.CreatedAt
		stats.LatestAnalysis = &t
	}
	return stats, nil
}
