package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/classify"
	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
	"github.com/TobiSchelling/reviewpulse/internal/sources"
)

// Store is the repository surface the sync engine uses.
type Store interface {
	LockStore
	ListProjects(ctx context.Context) ([]feedback.Project, error)
	GetSourcesForProject(ctx context.Context, projectID string) ([]feedback.Source, error)
	SetSourceStatus(ctx context.Context, sourceID string, status feedback.SourceStatus) error
	MarkSourceSynced(ctx context.Context, sourceID string, at time.Time) error
	UpsertItem(ctx context.Context, it *feedback.Item) error
}

// Analyzer produces an analysis record after ingestion. A nil record with
// a nil error means there was nothing to analyze.
type Analyzer interface {
	Analyze(ctx context.Context, projectID string) (*feedback.AnalysisRecord, error)
}

// Classifier assigns sentiment to unrated items before analysis.
type Classifier interface {
	ClassifyProject(ctx context.Context, projectID string) (*classify.Result, error)
}

// Options are the sync policy knobs.
type Options struct {
	HistoricalCeilingDays int
	StaleAfter            time.Duration
	RunTimeout            time.Duration
	Concurrency           int
}

// OptionsFromConfig maps the sync section of the config file.
func OptionsFromConfig(c config.Sync) Options {
	return Options{
		HistoricalCeilingDays: c.HistoricalCeilingDays,
		StaleAfter:            c.StaleThreshold(),
		RunTimeout:            c.RunTimeout(),
		Concurrency:           c.Concurrency,
	}
}

// Syncer runs the per-project sync: lock, ingest, classify, analyze, release.
type Syncer struct {
	store      Store
	registry   *sources.Registry
	analyzer   Analyzer
	classifier Classifier
	lock       *RunLock
	opts       Options
	log        *logger.Logger

	// Clock is overridable in tests; the run lock reads it too.
	Clock func() time.Time
}

// New creates a syncer. analyzer and classifier may be nil.
func New(store Store, registry *sources.Registry, analyzer Analyzer, classifier Classifier, opts Options, log *logger.Logger) *Syncer {
	if opts.HistoricalCeilingDays <= 0 {
		opts.HistoricalCeilingDays = 30
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	log = logger.OrNop(log)
	s := &Syncer{
		store:      store,
		registry:   registry,
		analyzer:   analyzer,
		classifier: classifier,
		opts:       opts,
		log:        log,
		Clock:      time.Now,
	}
	s.lock = NewRunLock(store, opts.StaleAfter, log)
	s.lock.Clock = func() time.Time { return s.Clock() }
	return s
}

func (s *Syncer) now() time.Time {
	return s.Clock().UTC().Truncate(time.Microsecond)
}

// Sync runs one sync for a project. It returns ErrAlreadySyncing when a
// fresh run holds the lock. Source and analysis failures are reported in the
// Report, not as an error; the lock is released on every path.
func (s *Syncer) Sync(ctx context.Context, projectID string) (report *Report, err error) {
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	if err := s.lock.Acquire(ctx, projectID); err != nil {
		return nil, err
	}
	defer func() {
		relCtx, cancel := detached(ctx)
		defer cancel()
		if rerr := s.lock.Release(relCtx, projectID); rerr != nil && err == nil {
			err = fmt.Errorf("releasing sync lock: %w", rerr)
		}
	}()

	report = &Report{ProjectID: projectID, StartedAt: s.now()}
	if err := s.ingest(ctx, projectID, report); err != nil {
		return report, err
	}

	s.classifyItems(ctx, report)
	s.runAnalysis(ctx, report)

	report.FinishedAt = s.now()
	s.log.Info("Sync complete", "project", projectID,
		"sources", len(report.Sources), "errored_sources", report.ErroredSources(),
		"upserted", report.Upserted(), "skipped", report.Skipped(), "failed", report.Failed(),
		"duration", report.FinishedAt.Sub(report.StartedAt).String())
	return report, nil
}

func (s *Syncer) classifyItems(ctx context.Context, report *Report) {
	if s.classifier == nil || ctx.Err() != nil {
		return
	}
	res, err := s.classifier.ClassifyProject(ctx, report.ProjectID)
	if err != nil {
		s.log.Warn("Sentiment classification failed", "project", report.ProjectID, "error", err)
		return
	}
	report.Classified = res.Processed
}

func (s *Syncer) runAnalysis(ctx context.Context, report *Report) {
	if s.analyzer == nil {
		report.AnalysisSkipped = true
		return
	}
	if err := ctx.Err(); err != nil {
		report.AnalysisErr = err
		s.log.Warn("Sync deadline reached, analysis skipped", "project", report.ProjectID)
		return
	}
	rec, err := s.analyzer.Analyze(ctx, report.ProjectID)
	switch {
	case err != nil:
		report.AnalysisErr = err
		s.log.Error("Analysis failed, previous analysis stays current", "project", report.ProjectID, "error", err)
	case rec == nil:
		report.AnalysisSkipped = true
	default:
		report.AnalysisID = rec.ID
	}
}
