package sources

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	xProfileRe     = regexp.MustCompile(`(?i)(?:x\.com|twitter\.com)/@?([A-Za-z0-9_]+)`)
	xStatusRe      = regexp.MustCompile(`(?i)(?:x\.com|twitter\.com)/([A-Za-z0-9_]+)/status(?:es)?/(\d+)`)
	xTitleAuthorRe = regexp.MustCompile(`\(@([A-Za-z0-9_]+)\)`)
	handleRe       = regexp.MustCompile(`^@?[A-Za-z0-9_.]+$`)
	appIDRe        = regexp.MustCompile(`id(\d+)`)
	igPostRe       = regexp.MustCompile(`(?i)instagram\.com/(p|reel|tv)/([A-Za-z0-9_-]+)`)
)

// NormalizeHandle lowercases a handle and strips a leading '@'.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// SameHandle compares two handles case-insensitively, ignoring '@'.
func SameHandle(a, b string) bool {
	na, nb := NormalizeHandle(a), NormalizeHandle(b)
	return na != "" && na == nb
}

// parseXQuery decides whether an X source targets an account. It returns the
// bare handle for "@name", "name" or a profile URL, and ok=false for keyword queries.
func parseXQuery(q string) (handle string, ok bool) {
	q = strings.TrimSpace(q)
	if m := xProfileRe.FindStringSubmatch(q); m != nil {
		return m[1], true
	}
	if strings.Contains(q, " ") || strings.Contains(q, "http") {
		return "", false
	}
	if handleRe.MatchString(q) {
		return strings.TrimPrefix(q, "@"), true
	}
	return "", false
}

// xStatus extracts author handle and status id from a post URL.
func xStatus(link string) (handle, id string, ok bool) {
	m := xStatusRe.FindStringSubmatch(link)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// xTitleAuthor pulls "@handle" out of titles like "Bob (@bob) on X: ...".
func xTitleAuthor(title string) string {
	if m := xTitleAuthorRe.FindStringSubmatch(title); m != nil {
		return m[1]
	}
	return ""
}

// parsePackageName accepts a bare package name or a Play Store URL.
func parsePackageName(input string) string {
	input = strings.TrimSpace(input)
	if u, err := url.Parse(input); err == nil && u.Host != "" {
		if id := u.Query().Get("id"); id != "" {
			return id
		}
		if i := strings.Index(u.Path, "details/"); i >= 0 {
			return strings.Trim(u.Path[i+len("details/"):], "/")
		}
	}
	return input
}

// parseAppID accepts a numeric id or an apps.apple.com URL ending in id123.
func parseAppID(input string) string {
	input = strings.TrimSpace(input)
	if m := appIDRe.FindStringSubmatch(input); m != nil {
		return m[1]
	}
	return input
}

// parseInstagramAccount extracts the username from a handle or profile URL.
func parseInstagramAccount(input string) string {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "instagram.com") {
		if !strings.Contains(input, "://") {
			input = "https://" + input
		}
		if u, err := url.Parse(input); err == nil {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) > 0 {
				input = parts[0]
			}
		}
	}
	if i := strings.Index(input, "?"); i >= 0 {
		input = input[:i]
	}
	return strings.TrimPrefix(strings.TrimSpace(input), "@")
}

// normalizePostURL canonicalizes an Instagram post/reel URL.
func normalizePostURL(u string) string {
	u = strings.TrimSpace(u)
	if m := igPostRe.FindStringSubmatch(u); m != nil {
		return "https://www.instagram.com/" + strings.ToLower(m[1]) + "/" + m[2] + "/"
	}
	return strings.TrimSuffix(u, "/")
}
