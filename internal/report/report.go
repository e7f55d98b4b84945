package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/TobiSchelling/reviewpulse/internal/database"
	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Store is what a report reads.
type Store interface {
	GetProject(ctx context.Context, id string) (*feedback.Project, error)
	GetSourcesForProject(ctx context.Context, projectID string) ([]feedback.Source, error)
	GetProjectStats(ctx context.Context, projectID string) (*database.ProjectStats, error)
	GetLatestAnalysis(ctx context.Context, projectID string) (*feedback.AnalysisRecord, error)
}

// Summary is everything shown about one project.
type Summary struct {
	Project     feedback.Project
	Sources     []feedback.Source
	Stats       database.ProjectStats
	Analysis    *feedback.AnalysisRecord
	GeneratedAt time.Time
}

// CriticalPercent is the share of items in the critical bucket, 0..100.
func (s *Summary) CriticalPercent() int {
	return percent(s.Stats.CriticalItems, s.Stats.TotalItems)
}

// PositivePercent is the share of items in the positive bucket, 0..100.
func (s *Summary) PositivePercent() int {
	return percent(s.Stats.PositiveItems, s.Stats.TotalItems)
}

func percent(n, total int) int {
	if total == 0 {
		return 0
	}
	return (n*100 + total/2) / total
}

// Build loads the summary for a project.
func Build(ctx context.Context, store Store, projectID string, now time.Time) (*Summary, error) {
	p, err := store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	srcs, err := store.GetSourcesForProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	stats, err := store.GetProjectStats(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rec, err := store.GetLatestAnalysis(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Summary{Project: *p, Sources: srcs, Stats: *stats, Analysis: rec, GeneratedAt: now}, nil
}

// Markdown renders the summary and its latest analysis.
func Markdown(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", s.Project.Name)

	fmt.Fprintf(&b, "**%s items** · %d%% critical · %d%% positive\n\n",
		humanize.Comma(int64(s.Stats.TotalItems)), s.CriticalPercent(), s.PositivePercent())

	if len(s.Sources) > 0 {
		b.WriteString("| Source | Target | Status | Last sync |\n|---|---|---|---|\n")
		for _, src := range s.Sources {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				src.Platform.DisplayName(), escapeCell(target(src.Config)), src.Status, lastSync(src.LastSync, s.GeneratedAt))
		}
		b.WriteString("\n")
	}

	if s.Analysis == nil {
		b.WriteString("_No analysis yet. Run a sync once feedback has been collected._\n")
		return b.String()
	}

	a := s.Analysis
	p := a.Payload
	fmt.Fprintf(&b, "## Score: %d/100\n\n", p.Score)
	fmt.Fprintf(&b, "Period %s to %s, %d critical and %d positive of %d items.\n\n",
		a.PeriodStart.Format("2006-01-02"), a.PeriodEnd.Format("2006-01-02"), p.PoorCount, p.GoodCount, p.TotalCount)

	writeGroup(&b, "What users criticize", p.Criticisms)
	writeGroup(&b, "What users praise", p.Praises)

	fmt.Fprintf(&b, "---\n\n_Analysis %s, generated %s._\n", a.ID, a.CreatedAt.Format(time.RFC3339))
	return b.String()
}

func writeGroup(b *strings.Builder, heading string, g feedback.ThemeGroup) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	if g.Summary != "" {
		b.WriteString(g.Summary + "\n\n")
	}
	for _, t := range g.Bullets {
		fmt.Fprintf(b, "### %s (%d)\n\n", t.Title, t.Count)
		if t.Details != "" {
			b.WriteString(t.Details + "\n\n")
		}
		for _, ex := range t.Examples {
			fmt.Fprintf(b, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(ex), "\n", " "))
		}
	}
	if len(g.Suggestions) > 0 {
		b.WriteString("**Suggestions:**\n\n")
		for _, sug := range g.Suggestions {
			b.WriteString("- " + sug + "\n")
		}
		b.WriteString("\n")
	}
}

func target(cfg feedback.SourceConfig) string {
	switch c := cfg.(type) {
	case feedback.GooglePlayConfig:
		return c.PackageName
	case feedback.AppStoreConfig:
		return c.AppID
	case feedback.InstagramConfig:
		return c.Account
	case feedback.XConfig:
		return c.Query
	case feedback.CSVConfig:
		return c.Path
	}
	return "?"
}

func lastSync(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.RelTime(*t, now, "ago", "from now")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · reviewpulse</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .3rem .6rem; }
blockquote { color: #555; border-left: 3px solid #ddd; margin-left: 0; padding-left: 1rem; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// HTML renders the Markdown report into a standalone page.
func HTML(s *Summary) (string, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(Markdown(s)), &body); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	var out bytes.Buffer
	err := page.Execute(&out, map[string]any{
		"Title": s.Project.Name,
		"Body":  template.HTML(body.String()), //nolint: gosec
	})
	if err != nil {
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return out.String(), nil
}
