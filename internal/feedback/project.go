package feedback

import "time"

// Project owns sources, items and analysis records.
// SyncInProgress and SyncStartedAt are written only by the run lock.
type Project struct {
	ID             string
	Name           string
	SyncInProgress bool
	SyncStartedAt  *time.Time
	CreatedAt      time.Time
}

// Source is one configured external feed attached to a project.
type Source struct {
	ID        string
	ProjectID string
	Platform  Platform
	Config    SourceConfig
	Status    SourceStatus
	LastSync  *time.Time
	CreatedAt time.Time
}
