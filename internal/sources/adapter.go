package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// ErrMissingCredential is reported when a provider credential is not configured.
var ErrMissingCredential = errors.New("missing provider credential")

// Result is one adapter call's outcome. Errors never prevent Items from
// being returned; a partial batch is kept alongside the failures.
type Result struct {
	Items  []feedback.Item
	Errors []string
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Failed reports whether the adapter recorded any error.
func (r Result) Failed() bool {
	return len(r.Errors) > 0
}

// Adapter fetches items created at or after since for one platform.
// Implementations report provider failures in Result.Errors instead of
// returning an error, and filter their output to CreatedAt >= since.
type Adapter interface {
	FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result
}

// CredentialChecker is implemented by adapters that need a provider
// credential. The ingestion coordinator calls it before FetchSince.
type CredentialChecker interface {
	CheckCredentials() error
}

// filterSince drops items created before since.
func filterSince(items []feedback.Item, since time.Time) []feedback.Item {
	kept := items[:0]
	for _, it := range items {
		if !it.CreatedAt.Before(since) {
			kept = append(kept, it)
		}
	}
	return kept
}

// dedupe keeps the first occurrence of each external id.
func dedupe(items []feedback.Item) []feedback.Item {
	seen := make(map[string]struct{}, len(items))
	kept := items[:0]
	for _, it := range items {
		if _, ok := seen[it.ExternalID]; ok {
			continue
		}
		seen[it.ExternalID] = struct{}{}
		kept = append(kept, it)
	}
	return kept
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
