package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
	"github.com/TobiSchelling/reviewpulse/internal/logger"
)

const (
	instagramPostsActor    = "apify/instagram-scraper"
	instagramCommentsActor = "apify/instagram-comment-scraper"
	instagramMaxPosts      = 24
)

// InstagramAdapter collects comments left by other people on the monitored
// account's recent posts. Step one scrapes the account's posts, step two
// scrapes comments on exactly those posts.
type InstagramAdapter struct {
	apify *ApifyClient
	log   *logger.Logger
	now   func() time.Time
}

// NewInstagramAdapter creates an adapter that scrapes through apify.
func NewInstagramAdapter(apify *ApifyClient, log *logger.Logger) *InstagramAdapter {
	return &InstagramAdapter{apify: apify, log: logger.OrNop(log), now: time.Now}
}

// CheckCredentials reports ErrMissingCredential when no Apify token is set.
func (a *InstagramAdapter) CheckCredentials() error {
	return a.apify.CheckCredentials()
}

type instagramPost struct {
	URL       string `json:"url"`
	ShortCode string `json:"shortCode"`
	Timestamp string `json:"timestamp"`
	Owner     string `json:"ownerUsername"`
}

type instagramComment struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	Timestamp     string `json:"timestamp"`
	PostURL       string `json:"postUrl"`
	OwnerUsername string `json:"ownerUsername"`
	Owner         struct {
		Username string `json:"username"`
	} `json:"owner"`
	LikesCount int `json:"likesCount"`
}

func (c instagramComment) author() string {
	if c.OwnerUsername != "" {
		return c.OwnerUsername
	}
	return c.Owner.Username
}

// FetchSince returns other users' comments on the account's posts published
// since the given time.
func (a *InstagramAdapter) FetchSince(ctx context.Context, cfg feedback.SourceConfig, since time.Time) Result {
	var res Result
	c, ok := cfg.(feedback.InstagramConfig)
	if !ok {
		res.addError("instagram: unexpected config %T", cfg)
		return res
	}
	account := parseInstagramAccount(c.Account)
	if account == "" {
		res.addError("instagram: no account in %q", c.Account)
		return res
	}
	now := a.now().UTC()

	var posts []instagramPost
	err := a.apify.RunActor(ctx, instagramPostsActor, map[string]any{
		"search":       account,
		"searchType":   "user",
		"resultsType":  "posts",
		"resultsLimit": instagramMaxPosts + 1,
	}, &posts)
	if err != nil {
		res.addError("instagram posts for @%s: %v", account, err)
		return res
	}

	postURLs := a.recentPostURLs(posts, account, since, now)
	a.log.Debug("Discovered Instagram posts", "account", account, "posts", len(postURLs))
	if len(postURLs) == 0 {
		return res
	}

	wanted := make(map[string]struct{}, len(postURLs))
	for _, u := range postURLs {
		wanted[u] = struct{}{}
	}

	var comments []instagramComment
	err = a.apify.RunActor(ctx, instagramCommentsActor, map[string]any{
		"directUrls": postURLs,
	}, &comments)
	if err != nil {
		res.addError("instagram comments for @%s: %v", account, err)
		return res
	}

	for _, cm := range comments {
		author := cm.author()
		if author == "" || SameHandle(author, account) {
			continue
		}
		// Comments without a post link still count; they just carry no parent.
		postURL := normalizePostURL(cm.PostURL)
		if postURL != "" {
			if _, ok := wanted[postURL]; !ok {
				continue
			}
		}

		id := cm.ID
		if id == "" {
			id = ContentID(feedback.PlatformInstagram, account, postURL, author, cm.Text)
		}
		handle := "@" + strings.TrimPrefix(author, "@")
		it := feedback.Item{
			Platform:   feedback.PlatformInstagram,
			ExternalID: id,
			Text:       cm.Text,
			Author:     &handle,
			CreatedAt:  dateOr(cm.Timestamp, now, now),
			Metadata:   map[string]any{},
		}
		if postURL != "" {
			it.URL = &postURL
			it.Metadata["parentPostUrl"] = postURL
		}
		if cm.LikesCount > 0 {
			it.Metadata["likes"] = cm.LikesCount
		}
		res.Items = append(res.Items, it)
	}

	res.Items = filterSince(dedupe(res.Items), since)
	return res
}

// recentPostURLs keeps up to instagramMaxPosts of the account's own posts
// published at or after since.
func (a *InstagramAdapter) recentPostURLs(posts []instagramPost, account string, since, now time.Time) []string {
	var urls []string
	seen := make(map[string]struct{})
	for _, p := range posts {
		if p.Owner != "" && !SameHandle(p.Owner, account) {
			continue
		}
		if t, ok := ParseDate(p.Timestamp, now); ok && t.Before(since) {
			continue
		}
		u := p.URL
		if u == "" && p.ShortCode != "" {
			u = fmt.Sprintf("https://www.instagram.com/p/%s/", p.ShortCode)
		}
		u = normalizePostURL(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
		if len(urls) == instagramMaxPosts {
			break
		}
	}
	return urls
}
