package feedback

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingExternalID = errors.New("item has no external id")
	ErrMissingText       = errors.New("item has no text")
)

// Item is one piece of feedback normalized across platforms.
// (Platform, ExternalID, ProjectID) is unique in storage.
type Item struct {
	ID         int64
	ProjectID  string
	Platform   Platform
	ExternalID string
	Text       string
	Rating     *int
	Sentiment  *Sentiment
	Author     *string
	URL        *string
	CreatedAt  time.Time
	FetchedAt  time.Time
	Metadata   map[string]any
}

// Validate rejects items that must never reach storage.
func (it *Item) Validate() error {
	if strings.TrimSpace(it.ExternalID) == "" {
		return ErrMissingExternalID
	}
	if strings.TrimSpace(it.Text) == "" {
		return ErrMissingText
	}
	return nil
}

// IsCritical reports whether the item belongs to the critical bucket:
// rating <= 3 or sentiment NEG.
func (it *Item) IsCritical() bool {
	if it.Rating != nil && *it.Rating <= 3 {
		return true
	}
	return it.Sentiment != nil && *it.Sentiment == SentimentNegative
}

// IsPositive reports whether the item belongs to the positive bucket:
// rating >= 4 or sentiment POS.
func (it *Item) IsPositive() bool {
	if it.Rating != nil && *it.Rating >= 4 {
		return true
	}
	return it.Sentiment != nil && *it.Sentiment == SentimentPositive
}

// NormalizeRating clamps provider ratings into 1..5; anything else means "no rating".
func NormalizeRating(r float64) *int {
	if r < 1 || r > 5 {
		return nil
	}
	v := int(r + 0.5)
	return &v
}

// Bucket selects critical or positive items in repository queries.
type Bucket string

const (
	BucketCritical Bucket = "critical"
	BucketPositive Bucket = "positive"
)
