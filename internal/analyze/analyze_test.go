package analyze

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// mockProvider implements llm.Provider for testing.
type mockProvider struct {
	response string
	err      error
	prompts  []string
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Generate(_ context.Context, prompt string, _ int) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func (m *mockProvider) IsConfigured() bool { return true }

const validResponse = "```json\n" + `{
  "score": 62,
  "criticisms": {
    "summary": "Users report crashes after the last update.",
    "bullets": [{"title": "Crashes", "details": "App closes on launch", "count": 2, "examples": ["Crashes on launch"]}],
    "suggestions": ["Fix the launch crash"]
  },
  "praises": {
    "summary": "People like the design.",
    "bullets": [{"title": "Design", "details": "Clean interface", "count": 1, "examples": ["Looks great"]}]
  }
}` + "\n```"

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seed(t *testing.T, db *database.DB, ratings ...int) string {
	t.Helper()
	ctx := context.Background()
	p, err := db.CreateProject(ctx, "Acme")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, r := range ratings {
		rating := r
		err := db.UpsertItem(ctx, &feedback.Item{
			ProjectID:  p.ID,
			Platform:   feedback.PlatformGooglePlay,
			ExternalID: string(rune('a' + i)),
			Text:       "review text",
			Rating:     &rating,
			CreatedAt:  base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return p.ID
}

func newAnalyzer(t *testing.T, db *database.DB, p *mockProvider) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(db, p, 100, 1000, nil)
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	a.Clock = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestAnalyzeSavesRecord(t *testing.T) {
	db := openTestDB(t)
	projectID := seed(t, db, 1, 2, 5)
	provider := &mockProvider{response: validResponse}

	rec, err := newAnalyzer(t, db, provider).Analyze(context.Background(), projectID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Payload.Score != 62 || rec.Payload.Criticisms.Bullets[0].Title != "Crashes" {
		t.Errorf("unexpected payload: %+v", rec.Payload)
	}
	if rec.Payload.PoorCount != 2 || rec.Payload.GoodCount != 1 || rec.Payload.TotalCount != 3 {
		t.Errorf("unexpected counts: %+v", rec.Payload)
	}
	if rec.PeriodEnd.Sub(rec.PeriodStart) != 7*24*time.Hour {
		t.Errorf("expected a 7 day period, got %v..%v", rec.PeriodStart, rec.PeriodEnd)
	}
	if !strings.Contains(provider.prompts[0], "CRITICAL FEEDBACK (2 items)") {
		t.Errorf("prompt missing critical corpus header")
	}

	latest, _ := db.GetLatestAnalysis(context.Background(), projectID)
	if latest == nil || latest.ID != rec.ID {
		t.Errorf("expected stored record to be latest, got %+v", latest)
	}
}

func TestAnalyzeRoundsFractionalScore(t *testing.T) {
	db := openTestDB(t)
	projectID := seed(t, db, 1, 5)
	provider := &mockProvider{response: strings.Replace(validResponse, `"score": 62`, `"score": 72.5`, 1)}

	rec, err := newAnalyzer(t, db, provider).Analyze(context.Background(), projectID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Payload.Score != 73 {
		t.Errorf("expected score rounded to 73, got %d", rec.Payload.Score)
	}
}

func TestAnalyzeSkipsWhenEmpty(t *testing.T) {
	db := openTestDB(t)
	projectID := seed(t, db)
	provider := &mockProvider{response: validResponse}

	rec, err := newAnalyzer(t, db, provider).Analyze(context.Background(), projectID)
	if err != nil || rec != nil {
		t.Fatalf("expected skip, got %+v err=%v", rec, err)
	}
	if len(provider.prompts) != 0 {
		t.Error("provider must not be called for an empty corpus")
	}
}

func TestAnalyzeRejectsInvalidPayload(t *testing.T) {
	tests := map[string]string{
		"not json":        "I cannot help with that.",
		"missing praises": `{"score": 50, "criticisms": {"summary": "x", "bullets": []}}`,
		"score too high":  `{"score": 140, "criticisms": {"summary": "x", "bullets": []}, "praises": {"summary": "y", "bullets": []}}`,
		"bad bullet":      `{"score": 40, "criticisms": {"summary": "x", "bullets": [{"title": "", "details": "d", "count": 1}]}, "praises": {"summary": "y", "bullets": []}}`,
	}
	for name, response := range tests {
		t.Run(name, func(t *testing.T) {
			db := openTestDB(t)
			projectID := seed(t, db, 1)
			_, err := newAnalyzer(t, db, &mockProvider{response: response}).Analyze(context.Background(), projectID)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
			latest, _ := db.GetLatestAnalysis(context.Background(), projectID)
			if latest != nil {
				t.Error("invalid output must not be stored")
			}
		})
	}
}

func TestAnalyzeProviderFailureKeepsPrevious(t *testing.T) {
	db := openTestDB(t)
	projectID := seed(t, db, 2, 4)
	ctx := context.Background()

	first, err := newAnalyzer(t, db, &mockProvider{response: validResponse}).Analyze(ctx, projectID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newAnalyzer(t, db, &mockProvider{err: errors.New("timeout")}).Analyze(ctx, projectID); err == nil {
		t.Fatal("expected provider error")
	}
	latest, _ := db.GetLatestAnalysis(ctx, projectID)
	if latest == nil || latest.ID != first.ID {
		t.Errorf("previous analysis must stay authoritative, got %+v", latest)
	}
}

func TestAnalyzeWithoutProvider(t *testing.T) {
	db := openTestDB(t)
	projectID := seed(t, db, 1)
	a, _ := NewAnalyzer(db, nil, 100, 1000, nil)
	if _, err := a.Analyze(context.Background(), projectID); !errors.Is(err, ErrNoProvider) {
		t.Errorf("expected ErrNoProvider, got %v", err)
	}
}
