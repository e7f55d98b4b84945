package sources

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const (
	googlePlayMaxPages = 5
	googlePlayPageSize = 100
)

// GooglePlayAdapter pages through an app's newest reviews via SerpApi's
// google_play_product engine.
type GooglePlayAdapter struct {
	serp *SerpClient
	log  *logger.Logger
	now  func() time.Time
}

// NewGooglePlayAdapter creates an adapter backed by the SerpApi Play product engine.
func NewGooglePlayAdapter(serp *SerpClient, log *logger.Logger) *GooglePlayAdapter {
	return &GooglePlayAdapter{serp: serp, log: logger.OrNop(log), now: time.Now}
}

// CheckCredentials reports ErrMissingCredential when no SerpApi key is set.
func (a *GooglePlayAdapter) CheckCredentials() error {
	return a.serp.CheckCredentials()
}

type googlePlayReview struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Rating  float64 `json:"rating"`
	Snippet string  `json:"snippet"`
	Likes   int     `json:"likes"`
	Date    string  `json:"date"`
	ISODate string  `json:"iso_date"`
	Link    string  `json:"link"`
}

type googlePlayResponse struct {
	Reviews           []googlePlayReview `json:"reviews"`
	SerpAPIPagination struct {
		NextPageToken string `json:"next_page_token"`
	} `json:"serpapi_pagination"`
}

// FetchSince pages newest-first reviews and stops at the first page older than since.
func (a *GooglePlayAdapter) FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result {
	var res Result
	c, ok := cfg.(feedback.GooglePlayConfig)
	if !ok {
		res.addError("google play: unexpected config %T", cfg)
		return res
	}
	pkg := parsePackageName(c.PackageName)
	now := a.now().UTC()

	token := ""
	for page := 1; page <= googlePlayMaxPages; page++ {
		params := url.Values{
			"engine":      {"google_play_product"},
			"store":       {"apps"},
			"product_id":  {pkg},
			"all_reviews": {"true"},
			"sort_by":     {"2"},
			"num":         {fmt.Sprintf("%d", googlePlayPageSize)},
		}
		if c.Language != "" {
			params.Set("hl", c.Language)
		}
		if token != "" {
			params.Set("next_page_token", token)
		}

		var resp googlePlayResponse
		if err := a.serp.Search(ctx, params, &resp); err != nil {
			res.addError("google play page %d: %v", page, err)
			break
		}
		if len(resp.Reviews) == 0 {
			break
		}

		reachedOld := false
		for _, r := range resp.Reviews {
			it := a.toItem(pkg, r, now)
			if it.CreatedAt.Before(since) {
				reachedOld = true
			}
			res.Items = append(res.Items, it)
		}
		a.log.Debug("Fetched Google Play page", "package", pkg, "page", page, "reviews", len(resp.Reviews))

		token = resp.SerpAPIPagination.NextPageToken
		if reachedOld || token == "" {
			break
		}
	}

	res.Items = filterSince(dedupe(res.Items), since)
	return res
}

func (a *GooglePlayAdapter) toItem(pkg string, r googlePlayReview, now time.Time) feedback.Item {
	createdAt := now
	if r.ISODate != "" {
		createdAt = dateOr(r.ISODate, now, now)
	} else if r.Date != "" {
		createdAt = dateOr(r.Date, now, now)
	}

	id := r.ID
	if id == "" {
		id = ContentID(feedback.PlatformGooglePlay, pkg, r.Title, r.Snippet, r.Date)
	}
	link := r.Link
	if link == "" {
		link = "https://play.google.com/store/apps/details?id=" + url.QueryEscape(pkg) + "&reviewId=" + url.QueryEscape(id)
	}

	it := feedback.Item{
		Platform:   feedback.PlatformGooglePlay,
		ExternalID: id,
		Text:       r.Snippet,
		Rating:     feedback.NormalizeRating(r.Rating),
		Author:     strPtr(r.Title),
		URL:        &link,
		CreatedAt:  createdAt,
	}
	if r.Likes > 0 {
		it.Metadata = map[string]any{"likes": r.Likes}
	}
	return it
}
