package sources

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const (
	defaultAppStoreBaseURL = "https://itunes.apple.com"
	appStoreMaxPages       = 10
)

// AppStoreAdapter reads Apple's public customer-reviews Atom feed, newest
// first, one page at a time. It needs no credential.
type AppStoreAdapter struct {
	baseURL string
	country string
	parser  *gofeed.Parser
	log     *logger.Logger
	now     func() time.Time
}

// NewAppStoreAdapter reads the public customer-reviews feed. country is used
// when a source does not set its own.
func NewAppStoreAdapter(baseURL, country string, timeout time.Duration, log *logger.Logger) *AppStoreAdapter {
	if baseURL == "" {
		baseURL = defaultAppStoreBaseURL
	}
	if country == "" {
		country = "us"
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: timeout}
	return &AppStoreAdapter{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		country: country,
		parser:  parser,
		log:     logger.OrNop(log),
		now:     time.Now,
	}
}

func (a *AppStoreAdapter) pageURL(country, appID string, page int) string {
	return fmt.Sprintf("%s/%s/rss/customerreviews/page=%d/id=%s/sortby=mostrecent/xml", a.baseURL, country, page, appID)
}

// FetchSince pages through the most-recent reviews feed until it passes since.
func (a *AppStoreAdapter) FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result {
	var res Result
	c, ok := cfg.(feedback.AppStoreConfig)
	if !ok {
		res.addError("app store: unexpected config %T", cfg)
		return res
	}
	appID := parseAppID(c.AppID)
	if _, err := strconv.ParseUint(appID, 10, 64); err != nil {
		res.addError("app store: %q is not a numeric app id", c.AppID)
		return res
	}
	country := c.Country
	if country == "" {
		country = a.country
	}
	now := a.now().UTC()

	for page := 1; page <= appStoreMaxPages; page++ {
		feed, err := a.parser.ParseURLWithContext(a.pageURL(country, appID, page), ctx)
		if err != nil {
			res.addError("app store page %d: %v", page, err)
			break
		}

		reviews := 0
		reachedOld := false
		for _, entry := range feed.Items {
			it, ok := a.toItem(appID, entry, now)
			if !ok {
				continue
			}
			reviews++
			if it.CreatedAt.Before(since) {
				reachedOld = true
			}
			res.Items = append(res.Items, it)
		}
		a.log.Debug("Fetched App Store page", "app_id", appID, "page", page, "reviews", reviews)
		if reviews == 0 || reachedOld {
			break
		}
	}

	res.Items = filterSince(dedupe(res.Items), since)
	return res
}

// toItem converts a feed entry. Entries without an im:rating (the app's own
// metadata entry on older feeds) are not reviews.
func (a *AppStoreAdapter) toItem(appID string, entry *gofeed.Item, now time.Time) (feedback.Item, bool) {
	ratingStr := extensionValue(entry, "im", "rating")
	if ratingStr == "" {
		return feedback.Item{}, false
	}
	rating, err := strconv.ParseFloat(ratingStr, 64)
	if err != nil {
		return feedback.Item{}, false
	}

	text := reviewText(entry.Content)
	if text == "" {
		text = reviewText(entry.Description)
	}
	title := strings.TrimSpace(entry.Title)

	createdAt := now
	if entry.UpdatedParsed != nil {
		createdAt = entry.UpdatedParsed.UTC()
	} else if entry.PublishedParsed != nil {
		createdAt = entry.PublishedParsed.UTC()
	}

	id := strings.TrimSpace(entry.GUID)
	if id == "" {
		id = ContentID(feedback.PlatformAppStore, appID, title, text)
	}

	var author string
	if entry.Author != nil {
		author = entry.Author.Name
	} else if len(entry.Authors) > 0 {
		author = entry.Authors[0].Name
	}

	link := entry.Link
	if link == "" {
		link = "https://apps.apple.com/app/id" + appID
	}

	it := feedback.Item{
		Platform:   feedback.PlatformAppStore,
		ExternalID: id,
		Text:       text,
		Rating:     feedback.NormalizeRating(rating),
		Author:     strPtr(author),
		URL:        &link,
		CreatedAt:  createdAt,
	}
	meta := map[string]any{}
	if title != "" {
		meta["title"] = title
	}
	if v := extensionValue(entry, "im", "version"); v != "" {
		meta["version"] = v
	}
	if len(meta) > 0 {
		it.Metadata = meta
	}
	return it, true
}

func extensionValue(entry *gofeed.Item, ns, name string) string {
	if entry.Extensions == nil {
		return ""
	}
	values := entry.Extensions[ns][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

// reviewText flattens an entry body to a single line of plain text. The feed
// carries each review as type="text" and as an HTML table; either works.
func reviewText(body string) string {
	body = strings.TrimSpace(body)
	if !strings.ContainsAny(body, "<&") {
		return strings.Join(strings.Fields(body), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.Join(strings.Fields(body), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml(" ")
	doc.Find("p, div, td, th, li").AppendHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}
