package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/reviewpulse/internal/config"
	"github.com/TobiSchelling/reviewpulse/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func unsetProviders(t *testing.T) {
	t.Helper()
	for _, env := range []string{"SERPAPI_API_KEY", "APIFY_API_TOKEN", "GOOGLE_GENERATIVE_AI_API_KEY", "OPENAI_API_KEY"} {
		t.Setenv(env, "")
	}
}

func TestStagesWithoutCredentials(t *testing.T) {
	unsetProviders(t)
	cfg := config.Default()
	// Nothing listens here, so the ollama fallback is unavailable too.
	cfg.Summarization.OllamaURL = "http://127.0.0.1:1"

	p, err := New(cfg, openTestDB(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Provider != nil {
		t.Fatalf("expected no provider, got %s", p.Provider.Name())
	}

	ready := map[string]bool{}
	for _, st := range p.Stages() {
		ready[st.Name] = st.Ready
	}
	tests := map[string]bool{
		"Google Play": false,
		"X":           false,
		"Instagram":   false,
		"App Store":   true,
		"CSV import":  true,
		"Analysis":    false,
	}
	for name, want := range tests {
		got, ok := ready[name]
		if !ok {
			t.Errorf("missing stage %q", name)
			continue
		}
		if got != want {
			t.Errorf("stage %q: ready=%v, want %v", name, got, want)
		}
	}
}

func TestStagesWithCredentials(t *testing.T) {
	unsetProviders(t)
	t.Setenv("SERPAPI_API_KEY", "serp-key")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg := config.Default()
	cfg.Summarization.Provider = "openai"

	p, err := New(cfg, openTestDB(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, st := range p.Stages() {
		switch st.Name {
		case "Google Play", "X":
			if !st.Ready {
				t.Errorf("%s should be ready: %s", st.Name, st.Detail)
			}
		case "Analysis":
			if !st.Ready || !strings.HasPrefix(st.Detail, "openai/") {
				t.Errorf("expected openai analysis stage, got %+v", st)
			}
		}
	}
}
