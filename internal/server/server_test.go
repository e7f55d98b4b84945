package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/sources"
	"github.com/TobiSchelling/reviewpulse/internal/syncer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type staticAdapter struct {
	items []feedback.Item
}

func (a staticAdapter) FetchSince(_ context.Context, _ feedback.SourceConfig, _ time.Time) sources.Result {
	items := make([]feedback.Item, len(a.items))
	copy(items, a.items)
	return sources.Result{Items: items}
}

func newTestServer(t *testing.T) (*Server, *database.DB, *feedback.Project) {
	t.Helper()
	db := openTestDB(t)
	ctx := context.Background()
	p, err := db.CreateProject(ctx, "Acme")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddSource(ctx, p.ID, feedback.GooglePlayConfig{PackageName: "com.acme"}); err != nil {
		t.Fatal(err)
	}
	one, five := 1, 5
	registry := sources.NewRegistry()
	registry.Register(feedback.PlatformGooglePlay, staticAdapter{items: []feedback.Item{
		{ExternalID: "r1", Text: "Crashes on start", Rating: &one, CreatedAt: time.Now().Add(-time.Hour)},
		{ExternalID: "r2", Text: "Love it", Rating: &five, CreatedAt: time.Now().Add(-time.Hour)},
	}})
	s := syncer.New(db, registry, nil, nil, syncer.Options{}, nil)
	return New(db, s, nil), db, p
}

func do(t *testing.T, srv *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestListProjectsRoute(t *testing.T) {
	srv, _, p := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/projects")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Projects []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"projects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Projects) != 1 || body.Projects[0].ID != p.ID {
		t.Errorf("unexpected projects: %+v", body.Projects)
	}
}

func TestSyncRoute(t *testing.T) {
	srv, db, p := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/projects/"+p.ID+"/sync")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Upserted        int  `json:"upserted"`
		AnalysisSkipped bool `json:"analysisSkipped"`
		Sources         []struct {
			Status string `json:"status"`
		} `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Upserted != 2 || len(body.Sources) != 1 || body.Sources[0].Status != "IDLE" {
		t.Errorf("unexpected sync response: %s", rec.Body.String())
	}
	if !body.AnalysisSkipped {
		t.Error("expected analysis to be skipped without an analyzer")
	}
	if n, _ := db.CountItems(context.Background(), p.ID); n != 2 {
		t.Errorf("expected 2 stored items, got %d", n)
	}
}

func TestSyncRouteOutlivesClient(t *testing.T) {
	srv, db, p := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+p.ID+"/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if n, _ := db.CountItems(context.Background(), p.ID); n != 2 {
		t.Errorf("expected the run to finish and store 2 items, got %d", n)
	}
}

func TestSyncRouteConflict(t *testing.T) {
	srv, db, p := newTestServer(t)
	if ok, _ := db.TryAcquireSyncLock(context.Background(), p.ID, time.Now().UTC()); !ok {
		t.Fatal("expected to plant a lock")
	}
	rec := do(t, srv, http.MethodPost, "/api/projects/"+p.ID+"/sync")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestSyncRouteUnknownProject(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/projects/missing/sync")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestProjectRoute(t *testing.T) {
	srv, db, p := newTestServer(t)
	do(t, srv, http.MethodPost, "/api/projects/"+p.ID+"/sync")
	rec := &feedback.AnalysisRecord{ProjectID: p.ID, Payload: feedback.AnalysisPayload{Score: 70, TotalCount: 2}}
	if err := db.InsertAnalysis(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	resp := do(t, srv, http.MethodGet, "/api/projects/"+p.ID)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Stats struct {
			Total           int `json:"total"`
			Critical        int `json:"critical"`
			CriticalPercent int `json:"criticalPercent"`
		} `json:"stats"`
		Sources []struct {
			Platform string          `json:"platform"`
			Config   json.RawMessage `json:"config"`
			LastSync *time.Time      `json:"lastSync"`
		} `json:"sources"`
		LatestAnalysis *struct {
			ID      string `json:"id"`
			Payload struct {
				Score int `json:"score"`
			} `json:"payload"`
		} `json:"latestAnalysis"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Stats.Total != 2 || body.Stats.Critical != 1 || body.Stats.CriticalPercent != 50 {
		t.Errorf("unexpected stats: %+v", body.Stats)
	}
	if len(body.Sources) != 1 || body.Sources[0].LastSync == nil || !strings.Contains(string(body.Sources[0].Config), "com.acme") {
		t.Errorf("unexpected sources: %s", resp.Body.String())
	}
	if body.LatestAnalysis == nil || body.LatestAnalysis.ID != rec.ID || body.LatestAnalysis.Payload.Score != 70 {
		t.Errorf("unexpected latest analysis: %s", resp.Body.String())
	}
}

func TestProjectRouteNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if rec := do(t, srv, http.MethodGet, "/api/projects/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestReportPage(t *testing.T) {
	srv, _, p := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/projects/"+p.ID+"/report")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<h1>Acme</h1>") {
		t.Errorf("expected project heading in page:\n%s", rec.Body.String())
	}
}

func TestAnalysesRoute(t *testing.T) {
	srv, db, p := newTestServer(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, score := range []int{40, 55, 70} {
		rec := &feedback.AnalysisRecord{
			ProjectID:   p.ID,
			PeriodStart: base,
			PeriodEnd:   base.AddDate(0, 0, i+1),
			CreatedAt:   base.AddDate(0, 0, i+1),
			Payload:     feedback.AnalysisPayload{Score: score},
		}
		if err := db.InsertAnalysis(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	resp := do(t, srv, http.MethodGet, "/api/projects/"+p.ID+"/analyses?limit=2")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body struct {
		Analyses []struct {
			Payload struct {
				Score int `json:"score"`
			} `json:"payload"`
		} `json:"analyses"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Analyses) != 2 {
		t.Fatalf("expected 2 analyses, got %d", len(body.Analyses))
	}
	if body.Analyses[0].Payload.Score != 70 || body.Analyses[1].Payload.Score != 55 {
		t.Errorf("expected newest first, got %+v", body.Analyses)
	}
}

func TestAnalysesRouteRejectsBadLimit(t *testing.T) {
	srv, _, p := newTestServer(t)
	for _, limit := range []string{"0", "-3", "ten"} {
		resp := do(t, srv, http.MethodGet, "/api/projects/"+p.ID+"/analyses?limit="+limit)
		if resp.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, resp.Code)
		}
	}
}

func TestAnalysesRouteUnknownProject(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp := do(t, srv, http.MethodGet, "/api/projects/nope/analyses")
	if resp.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.Code)
	}
}
