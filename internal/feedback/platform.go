package feedback

import (
	"fmt"
	"strings"
)

// Platform identifies where a piece of feedback came from.
type Platform string

const (
	PlatformGooglePlay Platform = "GOOGLE_PLAY"
	PlatformAppStore   Platform = "APP_STORE"
	PlatformInstagram  Platform = "INSTAGRAM"
	PlatformX          Platform = "X"
	PlatformCSV        Platform = "CSV"
)

// Platforms lists every supported platform in display order.
var Platforms = []Platform{
	PlatformGooglePlay,
	PlatformAppStore,
	PlatformInstagram,
	PlatformX,
	PlatformCSV,
}

// ParsePlatform accepts the canonical name or a loose alias ("google-play", "twitter").
func ParsePlatform(s string) (Platform, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "GOOGLE_PLAY", "PLAY", "GOOGLEPLAY":
		return PlatformGooglePlay, nil
	case "APP_STORE", "APPSTORE", "IOS":
		return PlatformAppStore, nil
	case "INSTAGRAM", "IG":
		return PlatformInstagram, nil
	case "X", "TWITTER":
		return PlatformX, nil
	case "CSV":
		return PlatformCSV, nil
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// DisplayName returns a human-readable platform name.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformGooglePlay:
		return "Google Play"
	case PlatformAppStore:
		return "App Store"
	case PlatformInstagram:
		return "Instagram"
	case PlatformX:
		return "X"
	case PlatformCSV:
		return "CSV import"
	}
	return string(p)
}

// Sentiment is an optional classification of an item's tone.
type Sentiment string

const (
	SentimentPositive Sentiment = "POS"
	SentimentNeutral  Sentiment = "NEU"
	SentimentNegative Sentiment = "NEG"
)

// ParseSentiment maps classifier and CSV spellings onto a Sentiment.
func ParseSentiment(s string) (Sentiment, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POS", "POSITIVE":
		return SentimentPositive, true
	case "NEU", "NEUTRAL":
		return SentimentNeutral, true
	case "NEG", "NEGATIVE":
		return SentimentNegative, true
	}
	return "", false
}

// SourceStatus tracks a source through a sync run: IDLE -> SYNCING -> IDLE | ERROR.
type SourceStatus string

const (
	StatusIdle    SourceStatus = "IDLE"
	StatusSyncing SourceStatus = "SYNCING"
	StatusError   SourceStatus = "ERROR"
)
