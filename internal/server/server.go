package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
	"github.com/TobiSchelling/reviewpulse/internal/report"
	"github.com/TobiSchelling/reviewpulse/internal/syncer"
)

// Store is the read side the HTTP surface needs.
type Store interface {
	report.Store
	ListProjects(ctx context.Context) ([]feedback.Project, error)
	ListAnalyses(ctx context.Context, projectID string, limit int) ([]feedback.AnalysisRecord, error)
}

// Syncer triggers project syncs.
type Syncer interface {
	Sync(ctx context.Context, projectID string) (*syncer.Report, error)
}

// Server is the HTTP surface: sync trigger, project summaries and reports.
type Server struct {
	store  Store
	syncer Syncer
	log    *logger.Logger
	engine *gin.Engine

	// Clock is overridable in tests.
	Clock func() time.Time
}

// New creates a Server with its routes registered.
func New(store Store, s Syncer, log *logger.Logger) *Server {
	srv := &Server{store: store, syncer: s, log: logger.OrNop(log), Clock: time.Now}

	r := gin.New()
	r.Use(srv.requestLogger(), gin.Recovery())
	srv.engine = r
	srv.routes()
	return srv
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/projects/:id/report", s.handleReportPage)

	api := s.engine.Group("/api")
	{
		api.GET("/projects", s.handleListProjects)
		api.GET("/projects/:id", s.handleProject)
		api.GET("/projects/:id/analyses", s.handleAnalyses)
		api.POST("/projects/:id/sync", s.handleSync)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "latency", time.Since(start).String())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type sourceView struct {
	ID       string                `json:"id"`
	Platform feedback.Platform     `json:"platform"`
	Config   feedback.SourceConfig `json:"config"`
	Status   feedback.SourceStatus `json:"status"`
	LastSync *time.Time            `json:"lastSync"`
}

type projectView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SyncInProgress bool       `json:"syncInProgress"`
	SyncStartedAt  *time.Time `json:"syncStartedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func newProjectView(p feedback.Project) projectView {
	return projectView{
		ID: p.ID, Name: p.Name, SyncInProgress: p.SyncInProgress,
		SyncStartedAt: p.SyncStartedAt, CreatedAt: p.CreatedAt,
	}
}

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.store.ListProjects(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]projectView, 0, len(projects))
	for _, p := range projects {
		out = append(out, newProjectView(p))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

func (s *Server) handleProject(c *gin.Context) {
	sum, err := report.Build(c.Request.Context(), s.store, c.Param("id"), s.Clock())
	if err != nil {
		s.fail(c, err)
		return
	}

	srcs := make([]sourceView, 0, len(sum.Sources))
	for _, src := range sum.Sources {
		srcs = append(srcs, sourceView{
			ID: src.ID, Platform: src.Platform, Config: src.Config,
			Status: src.Status, LastSync: src.LastSync,
		})
	}
	var analysis any
	if sum.Analysis != nil {
		analysis = newAnalysisView(*sum.Analysis)
	}

	c.JSON(http.StatusOK, gin.H{
		"project": newProjectView(sum.Project),
		"stats": gin.H{
			"total":           sum.Stats.TotalItems,
			"critical":        sum.Stats.CriticalItems,
			"positive":        sum.Stats.PositiveItems,
			"criticalPercent": sum.CriticalPercent(),
			"positivePercent": sum.PositivePercent(),
			"byPlatform":      sum.Stats.ByPlatform,
			"latestItemAt":    sum.Stats.LatestItemAt,
			"analyses":        sum.Stats.AnalysisCount,
		},
		"sources":        srcs,
		"latestAnalysis": analysis,
	})
}

const (
	defaultAnalysisLimit = 10
	maxAnalysisLimit     = 100
)

type analysisView struct {
	ID          string                   `json:"id"`
	PeriodStart time.Time                `json:"periodStart"`
	PeriodEnd   time.Time                `json:"periodEnd"`
	CreatedAt   time.Time                `json:"createdAt"`
	Payload     feedback.AnalysisPayload `json:"payload"`
}

func newAnalysisView(a feedback.AnalysisRecord) analysisView {
	return analysisView{
		ID: a.ID, PeriodStart: a.PeriodStart, PeriodEnd: a.PeriodEnd,
		CreatedAt: a.CreatedAt, Payload: a.Payload,
	}
}

// handleAnalyses lists a project's analysis history, newest first.
func (s *Server) handleAnalyses(c *gin.Context) {
	limit := defaultAnalysisLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAnalysisLimit)
	}

	ctx := c.Request.Context()
	projectID := c.Param("id")
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		s.fail(c, err)
		return
	}
	recs, err := s.store.ListAnalyses(ctx, projectID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]analysisView, 0, len(recs))
	for _, r := range recs {
		out = append(out, newAnalysisView(r))
	}
	c.JSON(http.StatusOK, gin.H{"analyses": out})
}

func (s *Server) handleSync(c *gin.Context) {
	projectID := c.Param("id")
	// A client hanging up must not cut a run short; RunTimeout bounds it.
	rep, err := s.syncer.Sync(context.WithoutCancel(c.Request.Context()), projectID)
	if err != nil {
		s.fail(c, err)
		return
	}

	outcomes := make([]gin.H, 0, len(rep.Sources))
	for _, o := range rep.Sources {
		outcomes = append(outcomes, gin.H{
			"sourceId": o.SourceID, "platform": o.Platform, "status": o.Status,
			"since": o.Since, "fetched": o.Fetched, "upserted": o.Upserted,
			"skipped": o.Skipped, "failed": o.Failed, "errors": o.Errors,
		})
	}
	body := gin.H{
		"projectId":       rep.ProjectID,
		"startedAt":       rep.StartedAt,
		"finishedAt":      rep.FinishedAt,
		"sources":         outcomes,
		"upserted":        rep.Upserted(),
		"skipped":         rep.Skipped(),
		"failed":          rep.Failed(),
		"failureRate":     rep.FailureRate(),
		"classified":      rep.Classified,
		"analysisId":      rep.AnalysisID,
		"analysisSkipped": rep.AnalysisSkipped,
	}
	if rep.AnalysisErr != nil {
		body["analysisError"] = rep.AnalysisErr.Error()
	}
	if rep.Aborted != nil {
		body["aborted"] = rep.Aborted.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleReportPage(c *gin.Context) {
	sum, err := report.Build(c.Request.Context(), s.store, c.Param("id"), s.Clock())
	if err != nil {
		s.fail(c, err)
		return
	}
	page, err := report.HTML(sum)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

// fail maps domain errors onto status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, syncer.ErrAlreadySyncing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.log.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Server listening", "addr", "http://"+addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	s.log.Info("Server stopped")
	return nil
}
