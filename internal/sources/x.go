package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const (
	xMaxPosts          = 10
	xPostsPerDiscovery = 20
	xRepliesPerPost    = 20
	xKeywordResults    = 20
)

// XAdapter collects X posts through Google search results. For an account
// it first discovers the account's recent posts and then searches replies
// to each; for a keyword query it runs a single site-restricted search.
type XAdapter struct {
	serp *SerpClient
	log  *logger.Logger
	now  func() time.Time
}

// NewXAdapter creates an adapter that finds X posts through SerpApi web search.
func NewXAdapter(serp *SerpClient, log *logger.Logger) *XAdapter {
	return &XAdapter{serp: serp, log: logger.OrNop(log), now: time.Now}
}

// CheckCredentials reports ErrMissingCredential when no SerpApi key is set.
func (a *XAdapter) CheckCredentials() error {
	return a.serp.CheckCredentials()
}

// FetchSince collects replies to a handle's recent posts, or results for a
// keyword query. In handle mode the account's own posts are dropped.
func (a *XAdapter) FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result {
	c, ok := cfg.(feedback.XConfig)
	if !ok {
		var res Result
		res.addError("x: unexpected config %T", cfg)
		return res
	}
	now := a.now().UTC()

	var res Result
	if handle, isHandle := parseXQuery(c.Query); isHandle {
		res = a.fetchReplies(ctx, handle, now)
	} else {
		res = a.fetchKeyword(ctx, c.Query, now)
	}
	res.Items = filterSince(dedupe(res.Items), since)
	return res
}

func (a *XAdapter) fetchReplies(ctx context.Context, handle string, now time.Time) Result {
	var res Result

	postsQuery := fmt.Sprintf("site:x.com/%s/status OR site:twitter.com/%s/status", handle, handle)
	posts, err := a.serp.searchWeb(ctx, postsQuery, xPostsPerDiscovery, true)
	if err != nil {
		res.addError("x post discovery for @%s: %v", handle, err)
		return res
	}

	type post struct{ id, link string }
	var own []post
	seen := make(map[string]struct{})
	for _, p := range posts {
		author, id, ok := xStatus(p.Link)
		if !ok || !SameHandle(author, handle) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		own = append(own, post{id: id, link: p.Link})
		if len(own) == xMaxPosts {
			break
		}
	}
	a.log.Debug("Discovered X posts", "handle", handle, "posts", len(own))

	for _, p := range own {
		repliesQuery := fmt.Sprintf(`"%s" "Replying to @%s"`, p.id, handle)
		replies, err := a.serp.searchWeb(ctx, repliesQuery, xRepliesPerPost, false)
		if err != nil {
			res.addError("x replies for post %s: %v", p.id, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for _, r := range replies {
			it, ok := a.replyItem(r, handle, now)
			if !ok {
				continue
			}
			it.Metadata = map[string]any{
				"parentPostId":  p.id,
				"parentPostUrl": p.link,
			}
			res.Items = append(res.Items, it)
		}
	}
	return res
}

// replyItem converts a search result into a reply item, rejecting results
// authored by the monitored account itself.
func (a *XAdapter) replyItem(r organicResult, handle string, now time.Time) (feedback.Item, bool) {
	author := xTitleAuthor(r.Title)
	if linkAuthor, _, ok := xStatus(r.Link); ok {
		if SameHandle(linkAuthor, handle) {
			return feedback.Item{}, false
		}
		if author == "" {
			author = linkAuthor
		}
	}
	if SameHandle(author, handle) {
		return feedback.Item{}, false
	}
	return a.toItem(r, author, now), true
}

func (a *XAdapter) fetchKeyword(ctx context.Context, query string, now time.Time) Result {
	var res Result
	q := fmt.Sprintf(`site:x.com "%s" OR site:twitter.com "%s"`, query, query)
	results, err := a.serp.searchWeb(ctx, q, xKeywordResults, true)
	if err != nil {
		res.addError("x keyword search %q: %v", query, err)
		return res
	}
	for _, r := range results {
		author := xTitleAuthor(r.Title)
		if author == "" {
			author, _, _ = xStatus(r.Link)
		}
		res.Items = append(res.Items, a.toItem(r, author, now))
	}
	return res
}

func (a *XAdapter) toItem(r organicResult, author string, now time.Time) feedback.Item {
	text := r.Snippet
	if text == "" {
		text = r.Title
	}
	id := r.Link
	if id == "" {
		id = ContentID(feedback.PlatformX, r.Title, r.Snippet)
	}
	if author != "" {
		author = "@" + author
	}
	return feedback.Item{
		Platform:   feedback.PlatformX,
		ExternalID: id,
		Text:       text,
		Author:     strPtr(author),
		URL:        strPtr(r.Link),
		CreatedAt:  dateOr(r.Date, now, now),
	}
}
