package syncer

import (
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// SourceOutcome records what happened to one source during a run.
type SourceOutcome struct {
	SourceID string
	Platform feedback.Platform
	Status   feedback.SourceStatus
	Since    time.Time
	Fetched  int
	Upserted int
	Skipped  int
	Failed   int
	Errors   []string
}

// Report summarizes one sync run.
type Report struct {
	ProjectID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Sources    []SourceOutcome

	Classified int

	AnalysisID      string
	AnalysisSkipped bool
	AnalysisErr     error

	// Aborted is set when the run deadline expired before every source ran.
	Aborted error
}

// Upserted is the number of items stored across all sources.
func (r *Report) Upserted() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Upserted
	}
	return n
}

// Skipped is the number of items rejected by validation.
func (r *Report) Skipped() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Skipped
	}
	return n
}

// Failed is the number of items whose upsert failed.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Failed
	}
	return n
}

// FailureRate is the share of fetched items that could not be stored. A
// storage outage shows up here as a rate near 1.
func (r *Report) FailureRate() float64 {
	fetched := 0
	for _, s := range r.Sources {
		fetched += s.Fetched
	}
	if fetched == 0 {
		return 0
	}
	return float64(r.Failed()) / float64(fetched)
}

// ErroredSources counts sources that ended in ERROR.
func (r *Report) ErroredSources() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == feedback.StatusError {
			n++
		}
	}
	return n
}
