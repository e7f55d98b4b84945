package sources

import (
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

func TestParseDate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"3 days ago", now.Add(-72 * time.Hour), true},
		{"1 hour ago", now.Add(-time.Hour), true},
		{"2 weeks ago", now.Add(-14 * 24 * time.Hour), true},
		{"5 mins ago", now.Add(-5 * time.Minute), true},
		{"yesterday", now.AddDate(0, 0, -1), true},
		{"2026-03-01T08:30:00Z", time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC), true},
		{"January 21, 2024", time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"not a date", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in, now)
		if ok != tt.ok {
			t.Errorf("ParseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(tt.want) {
			t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseXQuery(t *testing.T) {
	tests := []struct {
		in     string
		handle string
		ok     bool
	}{
		{"@acme", "acme", true},
		{"acme_app", "acme_app", true},
		{"https://x.com/AcmeApp", "AcmeApp", true},
		{"https://twitter.com/acme/status/123", "acme", true},
		{"acme app crashes", "", false},
		{"https://example.com/acme", "", false},
	}
	for _, tt := range tests {
		handle, ok := parseXQuery(tt.in)
		if handle != tt.handle || ok != tt.ok {
			t.Errorf("parseXQuery(%q) = (%q, %v), want (%q, %v)", tt.in, handle, ok, tt.handle, tt.ok)
		}
	}
}

func TestIdentifierNormalization(t *testing.T) {
	if got := parsePackageName("https://play.google.com/store/apps/details?id=com.acme.app&hl=en"); got != "com.acme.app" {
		t.Errorf("package from URL: got %q", got)
	}
	if got := parsePackageName(" com.acme.app "); got != "com.acme.app" {
		t.Errorf("bare package: got %q", got)
	}
	if got := parseAppID("https://apps.apple.com/us/app/acme/id333903271"); got != "333903271" {
		t.Errorf("app id from URL: got %q", got)
	}
	if got := parseAppID("333903271"); got != "333903271" {
		t.Errorf("bare app id: got %q", got)
	}
	if got := parseInstagramAccount("https://www.instagram.com/acme.app/?hl=en"); got != "acme.app" {
		t.Errorf("instagram account from URL: got %q", got)
	}
	if got := parseInstagramAccount("@acme"); got != "acme" {
		t.Errorf("instagram handle: got %q", got)
	}
	if got := normalizePostURL("https://instagram.com/p/AbC123?img_index=1"); got != "https://www.instagram.com/p/AbC123/" {
		t.Errorf("normalized post URL: got %q", got)
	}
}

func TestSameHandle(t *testing.T) {
	if !SameHandle("@Acme", "acme") {
		t.Error("expected handles to match case-insensitively")
	}
	if SameHandle("", "") {
		t.Error("empty handles must not match")
	}
	if SameHandle("acme", "acme2") {
		t.Error("different handles must not match")
	}
}

func TestContentIDStable(t *testing.T) {
	a := ContentID(feedback.PlatformCSV, "great app", "bob")
	b := ContentID(feedback.PlatformCSV, "great app", "bob")
	c := ContentID(feedback.PlatformCSV, "great app", "alice")
	if a != b {
		t.Errorf("expected identical ids, got %s and %s", a, b)
	}
	if a == c {
		t.Error("expected different content to yield different ids")
	}
	if !strings.HasPrefix(a, "csv_") {
		t.Errorf("expected platform prefix, got %s", a)
	}
}

func TestReviewText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Works   well\n", "Works well"},
		{"entities", "Tom &amp; Jerry&nbsp;approve", "Tom & Jerry approve"},
		{"line breaks", "Crashes<br/>every time", "Crashes every time"},
		{"html table", "<table><tr><td>Great app</td><td><b>5</b> stars</td></tr></table>", "Great app 5 stars"},
		{"script dropped", "<p>Nice</p><script>alert(1)</script>", "Nice"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reviewText(tt.in); got != tt.want {
				t.Errorf("reviewText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilterSinceAndDedupe(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	items := []feedback.Item{
		{ExternalID: "a", CreatedAt: since},
		{ExternalID: "b", CreatedAt: since.Add(-time.Second)},
		{ExternalID: "a", CreatedAt: since.Add(time.Hour)},
		{ExternalID: "c", CreatedAt: since.Add(time.Hour)},
	}
	got := filterSince(dedupe(items), since)
	if len(got) != 2 || got[0].ExternalID != "a" || got[1].ExternalID != "c" {
		t.Errorf("unexpected result: %+v", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(feedback.PlatformCSV, NewCSVAdapter(nil))
	if _, err := r.Get(feedback.PlatformCSV); err != nil {
		t.Errorf("expected csv adapter: %v", err)
	}
	if _, err := r.Get(feedback.PlatformX); err == nil {
		t.Error("expected error for unregistered platform")
	}
	if ps := r.Platforms(); len(ps) != 1 || ps[0] != feedback.PlatformCSV {
		t.Errorf("unexpected platforms: %v", ps)
	}
}
