package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
	"github.com/TobiSchelling/reviewpulse/internal/sources"
)

const statusWriteTimeout = 10 * time.Second

// ingest runs every source of the project in creation order. A failing
// source is marked ERROR and never stops the others.
func (s *Syncer) ingest(ctx context.Context, projectID string, report *Report) error {
	srcs, err := s.store.GetSourcesForProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading sources: %w", err)
	}

	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			report.Aborted = err
			s.log.Warn("Sync deadline reached, remaining sources skipped", "project", projectID, "error", err)
			break
		}
		report.Sources = append(report.Sources, s.ingestSource(ctx, src))
	}
	if report.Aborted == nil && ctx.Err() != nil {
		report.Aborted = ctx.Err()
		s.log.Warn("Sync deadline reached during ingestion", "project", projectID, "error", ctx.Err())
	}
	return nil
}

func (s *Syncer) ingestSource(ctx context.Context, src feedback.Source) SourceOutcome {
	log := s.log.With("project", src.ProjectID, "source", src.ID, "platform", string(src.Platform))
	out := SourceOutcome{SourceID: src.ID, Platform: src.Platform}

	if err := s.store.SetSourceStatus(ctx, src.ID, feedback.StatusSyncing); err != nil {
		return s.failSource(ctx, log, out, fmt.Sprintf("marking source syncing: %v", err))
	}

	adapter, err := s.registry.Get(src.Platform)
	if err != nil {
		return s.failSource(ctx, log, out, err.Error())
	}
	if src.Config == nil {
		return s.failSource(ctx, log, out, "malformed source config")
	}
	if err := src.Config.Validate(); err != nil {
		return s.failSource(ctx, log, out, err.Error())
	}
	if cc, ok := adapter.(sources.CredentialChecker); ok {
		if err := cc.CheckCredentials(); err != nil {
			return s.failSource(ctx, log, out, err.Error())
		}
	}

	out.Since = ComputeSince(s.now(), src.LastSync, s.opts.HistoricalCeilingDays)
	log.Info("Syncing source", "since", out.Since.Format(time.RFC3339))

	res, err := fetch(ctx, adapter, src.Config, out.Since)
	if err != nil {
		return s.failSource(ctx, log, out, err.Error())
	}
	out.Fetched = len(res.Items)

	fetchedAt := s.now()
	for i := range res.Items {
		it := &res.Items[i]
		it.ProjectID = src.ProjectID
		it.Platform = src.Platform
		it.FetchedAt = fetchedAt
		if it.CreatedAt.IsZero() {
			it.CreatedAt = fetchedAt
		}
		if err := it.Validate(); err != nil {
			out.Skipped++
			log.Warn("Skipping invalid item", "external_id", it.ExternalID, "reason", err)
			continue
		}
		if err := s.store.UpsertItem(ctx, it); err != nil {
			out.Failed++
			log.Error("Failed to store item", "external_id", it.ExternalID, "error", err)
			continue
		}
		out.Upserted++
	}

	if res.Failed() {
		out.Errors = append(out.Errors, res.Errors...)
		return s.failSource(ctx, log, out, "")
	}
	// Items lost to the deadline sit before the new watermark; keep the old one.
	if err := ctx.Err(); err != nil {
		return s.failSource(ctx, log, out, fmt.Sprintf("storing items: %v", err))
	}

	statusCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.store.MarkSourceSynced(statusCtx, src.ID, s.now()); err != nil {
		return s.failSource(ctx, log, out, fmt.Sprintf("advancing watermark: %v", err))
	}
	out.Status = feedback.StatusIdle
	log.Info("Source synced", "fetched", out.Fetched, "upserted", out.Upserted,
		"skipped", out.Skipped, "failed", out.Failed)
	return out
}

// failSource marks the source ERROR. The watermark is left untouched so the
// next run retries the same window.
func (s *Syncer) failSource(ctx context.Context, log *logger.Logger, out SourceOutcome, reason string) SourceOutcome {
	if reason != "" {
		out.Errors = append(out.Errors, reason)
	}
	out.Status = feedback.StatusError

	statusCtx, cancel := detached(ctx)
	defer cancel()
	if err := s.store.SetSourceStatus(statusCtx, out.SourceID, feedback.StatusError); err != nil {
		log.Error("Failed to mark source as errored", "error", err)
	}
	log.Warn("Source sync failed", "errors", out.Errors, "upserted", out.Upserted)
	return out
}

// fetch calls the adapter, turning a panic inside provider code into an error.
func fetch(ctx context.Context, a sources.Adapter, cfg feedback.SourceConfig, since time.Time) (res sources.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	res = a.FetchSince(ctx, cfg, since)
	if ctx.Err() != nil && !res.Failed() {
		res.Errors = append(res.Errors, ctx.Err().Error())
	}
	return res, nil
}

// detached returns a context for bookkeeping writes that must happen even
// after the run's deadline has passed.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}
