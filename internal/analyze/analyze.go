package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/llm"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const analysisPrompt = `You are a product analyst summarizing customer feedback for a product team.

Below are two sets of recent feedback: CRITICAL items (low ratings or negative
tone) and POSITIVE items (high ratings or positive tone).

Group each set into recurring themes. For every theme give a short title, a
one or two sentence description, how many items mention it, and up to three
short verbatim example snippets. Also write a two sentence summary per set and
up to five concrete, actionable suggestions for the product team based on the
critical feedback.

Score overall sentiment from 0 (universally negative) to 100 (universally positive).

CRITICAL FEEDBACK (%d items):
%s

POSITIVE FEEDBACK (%d items):
%s

Respond with ONLY this JSON:
{
    "score": 0-100,
    "criticisms": {
        "summary": "...",
        "bullets": [{"title": "...", "details": "...", "count": 0, "examples": ["..."]}],
        "suggestions": ["..."]
    },
    "praises": {
        "summary": "...",
        "bullets": [{"title": "...", "details": "...", "count": 0, "examples": ["..."]}]
    }
}`

const (
	maxSnippetChars = 400
	analysisPeriod  = 7 * 24 * time.Hour
)

// ErrNoProvider is returned when no summarization provider is configured.
var ErrNoProvider = errors.New("no summarization provider configured")

// Store is the slice of the repository the analyzer needs.
type Store interface {
	GetBucketItems(ctx context.Context, projectID string, bucket feedback.Bucket, limit int) ([]feedback.Item, error)
	CountBucket(ctx context.Context, projectID string, bucket feedback.Bucket) (int, error)
	CountItems(ctx context.Context, projectID string) (int, error)
	InsertAnalysis(ctx context.Context, rec *feedback.AnalysisRecord) error
}

// Analyzer turns a project's newest critical and positive items into an
// immutable analysis record.
type Analyzer struct {
	store     Store
	provider  llm.Provider
	limit     int
	maxTokens int
	schema    *jsonschema.Schema
	log       *logger.Logger

	// Clock is overridable in tests.
	Clock func() time.Time
}

// NewAnalyzer creates an analyzer that reads up to limit items per bucket.
func NewAnalyzer(store Store, provider llm.Provider, limit, maxTokens int, log *logger.Logger) (*Analyzer, error) {
	schema, err := compilePayloadSchema()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Analyzer{
		store:     store,
		provider:  provider,
		limit:     limit,
		maxTokens: maxTokens,
		schema:    schema,
		log:       logger.OrNop(log),
		Clock:     time.Now,
	}, nil
}

// Analyze builds and stores a new analysis record for the project. It
// returns (nil, nil) when both buckets are empty.
func (a *Analyzer) Analyze(ctx context.Context, projectID string) (*feedback.AnalysisRecord, error) {
	critical, err := a.store.GetBucketItems(ctx, projectID, feedback.BucketCritical, a.limit)
	if err != nil {
		return nil, fmt.Errorf("loading critical items: %w", err)
	}
	positive, err := a.store.GetBucketItems(ctx, projectID, feedback.BucketPositive, a.limit)
	if err != nil {
		return nil, fmt.Errorf("loading positive items: %w", err)
	}
	if len(critical) == 0 && len(positive) == 0 {
		a.log.Info("No critical or positive feedback, skipping analysis", "project", projectID)
		return nil, nil
	}
	if a.provider == nil {
		return nil, ErrNoProvider
	}

	prompt := fmt.Sprintf(analysisPrompt,
		len(critical), formatCorpus(critical),
		len(positive), formatCorpus(positive))

	responseText, err := a.provider.Generate(ctx, prompt, a.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("summarization request: %w", err)
	}

	raw, err := llm.ExtractJSON(responseText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := validatePayload(a.schema, raw); err != nil {
		return nil, err
	}
	payload, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}

	if payload.PoorCount, err = a.store.CountBucket(ctx, projectID, feedback.BucketCritical); err != nil {
		return nil, err
	}
	if payload.GoodCount, err = a.store.CountBucket(ctx, projectID, feedback.BucketPositive); err != nil {
		return nil, err
	}
	if payload.TotalCount, err = a.store.CountItems(ctx, projectID); err != nil {
		return nil, err
	}

	now := a.Clock().UTC().Truncate(time.Microsecond)
	rec := &feedback.AnalysisRecord{
		ProjectID:   projectID,
		PeriodStart: now.Add(-analysisPeriod),
		PeriodEnd:   now,
		CreatedAt:   now,
		Payload:     payload,
	}
	if err := a.store.InsertAnalysis(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving analysis: %w", err)
	}
	a.log.Info("Analysis saved", "project", projectID, "analysis", rec.ID, "score", payload.Score,
		"critical_items", len(critical), "positive_items", len(positive))
	return rec, nil
}

// decodePayload unmarshals a validated payload. Models sometimes return a
// fractional score; it is rounded to the nearest integer.
func decodePayload(raw string) (feedback.AnalysisPayload, error) {
	var wire struct {
		feedback.AnalysisPayload
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return feedback.AnalysisPayload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	payload := wire.AnalysisPayload
	payload.Score = int(math.Round(wire.Score))
	return payload, nil
}

func formatCorpus(items []feedback.Item) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, it := range items {
		text := strings.Join(strings.Fields(it.Text), " ")
		if r := []rune(text); len(r) > maxSnippetChars {
			text = string(r[:maxSnippetChars]) + "..."
		}
		sb.WriteString("- [")
		sb.WriteString(it.Platform.DisplayName())
		if it.Rating != nil {
			fmt.Fprintf(&sb, ", %d/5", *it.Rating)
		}
		sb.WriteString("] ")
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}
