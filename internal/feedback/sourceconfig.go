package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidConfig = errors.New("invalid source config")

// SourceConfig is the per-platform configuration of a source. Each platform has
// its own concrete type, so an adapter only ever sees the fields it understands.
type SourceConfig interface {
	Platform() Platform
	Validate() error
}

// GooglePlayConfig identifies an app on Google Play. PackageName may be a
// store URL; the adapter extracts the package id.
type GooglePlayConfig struct {
	PackageName string `json:"packageName"`
	Language    string `json:"language,omitempty"`
}

func (GooglePlayConfig) Platform() Platform { return PlatformGooglePlay }

func (c GooglePlayConfig) Validate() error {
	if strings.TrimSpace(c.PackageName) == "" {
		return fmt.Errorf("%w: google play source needs packageName", ErrInvalidConfig)
	}
	return nil
}

// AppStoreConfig identifies an app on the Apple App Store. AppID may be the
// numeric id or an apps.apple.com URL.
type AppStoreConfig struct {
	AppID   string `json:"appId"`
	Country string `json:"country,omitempty"`
}

func (AppStoreConfig) Platform() Platform { return PlatformAppStore }

func (c AppStoreConfig) Validate() error {
	if strings.TrimSpace(c.AppID) == "" {
		return fmt.Errorf("%w: app store source needs appId", ErrInvalidConfig)
	}
	return nil
}

// InstagramConfig names the monitored account (handle or profile URL).
type InstagramConfig struct {
	Account string `json:"account"`
}

func (InstagramConfig) Platform() Platform { return PlatformInstagram }

func (c InstagramConfig) Validate() error {
	if strings.TrimSpace(c.Account) == "" {
		return fmt.Errorf("%w: instagram source needs account", ErrInvalidConfig)
	}
	return nil
}

// XConfig is either a handle / profile URL (replies to that account) or a
// free-text keyword query.
type XConfig struct {
	Query string `json:"query"`
}

func (XConfig) Platform() Platform { return PlatformX }

func (c XConfig) Validate() error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("%w: x source needs query", ErrInvalidConfig)
	}
	return nil
}

// CSVConfig points at a local CSV export.
type CSVConfig struct {
	Path string `json:"path"`
}

func (CSVConfig) Platform() Platform { return PlatformCSV }

func (c CSVConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("%w: csv source needs path", ErrInvalidConfig)
	}
	return nil
}

// NewSourceConfig builds the config for a platform from its single primary
// target (package name, app id, account, query or file path).
func NewSourceConfig(p Platform, target string) (SourceConfig, error) {
	var cfg SourceConfig
	switch p {
	case PlatformGooglePlay:
		cfg = GooglePlayConfig{PackageName: target}
	case PlatformAppStore:
		cfg = AppStoreConfig{AppID: target}
	case PlatformInstagram:
		cfg = InstagramConfig{Account: target}
	case PlatformX:
		cfg = XConfig{Query: target}
	case PlatformCSV:
		cfg = CSVConfig{Path: target}
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidConfig, p)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EncodeSourceConfig serializes a config for storage.
func EncodeSourceConfig(cfg SourceConfig) ([]byte, error) {
	if cfg == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(cfg)
}

// DecodeSourceConfig restores a stored config using the platform as the tag.
func DecodeSourceConfig(p Platform, data []byte) (SourceConfig, error) {
	if len(data) == 0 {
		data = []byte("{}")
	}
	var (
		cfg SourceConfig
		err error
	)
	switch p {
	case PlatformGooglePlay:
		var c GooglePlayConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case PlatformAppStore:
		var c AppStoreConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case PlatformInstagram:
		var c InstagramConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case PlatformX:
		var c XConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	case PlatformCSV:
		var c CSVConfig
		err = json.Unmarshal(data, &c)
		cfg = c
	default:
		return nil, fmt.Errorf("%w: unknown platform %q", ErrInvalidConfig, p)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}
