package classify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/llm"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const classifyPrompt = `You are classifying customer feedback about a product.

For each numbered comment below decide whether its tone toward the product is
POS (praise, thanks, satisfaction), NEG (complaint, bug report, frustration) or
NEU (question, neutral remark, unrelated chatter).

Comments:
%s

Respond with ONLY this JSON:
{
    "classifications": [
        {"id": <comment number>, "sentiment": "POS" | "NEU" | "NEG"}
    ]
}`

const maxCommentChars = 500

// Store is the slice of the repository the classifier needs.
type Store interface {
	GetUnclassifiedItems(ctx context.Context, projectID string, limit int) ([]feedback.Item, error)
	SetItemSentiment(ctx context.Context, itemID int64, s feedback.Sentiment) error
}

// Result holds the results of a classification run.
type Result struct {
	Processed int
	Positive  int
	Neutral   int
	Negative  int
	Errors    int
}

// Classifier assigns a sentiment to items that carry neither rating nor
// sentiment, so they can join the critical or positive bucket.
type Classifier struct {
	store     Store
	provider  llm.Provider
	batchSize int
	maxTokens int
	log       *logger.Logger
}

// NewClassifier creates a classifier. A nil provider disables it.
func NewClassifier(store Store, provider llm.Provider, batchSize int, log *logger.Logger) *Classifier {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Classifier{
		store:     store,
		provider:  provider,
		batchSize: batchSize,
		maxTokens: 1024,
		log:       logger.OrNop(log),
	}
}

// ClassifyProject classifies one batch of the project's unclassified items.
func (c *Classifier) ClassifyProject(ctx context.Context, projectID string) (*Result, error) {
	if c.provider == nil {
		return &Result{}, nil
	}

	items, err := c.store.GetUnclassifiedItems(ctx, projectID, c.batchSize)
	if err != nil {
		return nil, fmt.Errorf("loading unclassified items: %w", err)
	}
	if len(items) == 0 {
		c.log.Debug("No items pending classification", "project", projectID)
		return &Result{}, nil
	}

	prompt := fmt.Sprintf(classifyPrompt, formatComments(items))
	responseText, err := c.provider.Generate(ctx, prompt, c.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("classifying %d items: %w", len(items), err)
	}

	var parsed struct {
		Classifications []struct {
			ID        any    `json:"id"`
			Sentiment string `json:"sentiment"`
		} `json:"classifications"`
	}
	if err := llm.DecodeJSONResponse(responseText, &parsed); err != nil {
		return nil, fmt.Errorf("parsing classification response: %w", err)
	}

	r := &Result{}
	for _, cl := range parsed.Classifications {
		idx, ok := commentIndex(cl.ID)
		if !ok || idx < 1 || idx > len(items) {
			r.Errors++
			continue
		}
		sentiment, ok := feedback.ParseSentiment(cl.Sentiment)
		if !ok {
			r.Errors++
			continue
		}
		item := items[idx-1]
		if err := c.store.SetItemSentiment(ctx, item.ID, sentiment); err != nil {
			c.log.Error("Failed to store sentiment", "item", item.ID, "error", err)
			r.Errors++
			continue
		}
		r.Processed++
		switch sentiment {
		case feedback.SentimentPositive:
			r.Positive++
		case feedback.SentimentNegative:
			r.Negative++
		default:
			r.Neutral++
		}
	}

	c.log.Info("Classification complete", "project", projectID, "processed", r.Processed,
		"positive", r.Positive, "neutral", r.Neutral, "negative", r.Negative, "errors", r.Errors)
	return r, nil
}

func formatComments(items []feedback.Item) string {
	var sb strings.Builder
	for i, it := range items {
		text := strings.Join(strings.Fields(it.Text), " ")
		if r := []rune(text); len(r) > maxCommentChars {
			text = string(r[:maxCommentChars]) + "..."
		}
		fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
	}
	return sb.String()
}

func commentIndex(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}
