package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Database      Database      `yaml:"database"`
	Sync          Sync          `yaml:"sync"`
	Providers     Providers     `yaml:"providers"`
	Summarization Summarization `yaml:"summarization"`
	Output        Output        `yaml:"output"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
}

type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type Sync struct {
	HistoricalCeilingDays int `yaml:"historical_ceiling_days"`
	StaleLockMinutes      int `yaml:"stale_lock_minutes"`
	RunTimeoutSeconds     int `yaml:"run_timeout_seconds"`
	Concurrency           int `yaml:"concurrency"`
	IntervalMinutes       int `yaml:"interval_minutes"`
	AnalysisLimit         int `yaml:"analysis_limit"`
	ClassifyBatch         int `yaml:"classify_batch"`
}

type Providers struct {
	SerpAPI            SerpAPI  `yaml:"serpapi"`
	Apify              Apify    `yaml:"apify"`
	AppStore           AppStore `yaml:"app_store"`
	HTTPTimeoutSeconds int      `yaml:"http_timeout_seconds"`
}

type SerpAPI struct {
	APIKeyEnv         string  `yaml:"api_key_env"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Apify struct {
	TokenEnv string `yaml:"token_env"`
	BaseURL  string `yaml:"base_url"`
}

type AppStore struct {
	BaseURL string `yaml:"base_url"`
	Country string `yaml:"country"`
}

type Summarization struct {
	Provider     string `yaml:"provider"`
	GeminiModel  string `yaml:"gemini_model"`
	GeminiKeyEnv string `yaml:"gemini_api_key_env"`
	OpenAIModel  string `yaml:"openai_model"`
	APIKeyEnv    string `yaml:"api_key_env"`
	Model        string `yaml:"model"`
	OllamaURL    string `yaml:"ollama_url"`
	MaxTokens    int    `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for reviewpulse.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "reviewpulse")
}

// DataDir returns the XDG data directory for reviewpulse.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "reviewpulse")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/reviewpulse/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'reviewpulse init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file overrides anything.
func Default() *Config {
	return &Config{
		Database: Database{Driver: "sqlite"},
		Sync: Sync{
			HistoricalCeilingDays: 30,
			StaleLockMinutes:      5,
			RunTimeoutSeconds:     60,
			Concurrency:           4,
			AnalysisLimit:         100,
			ClassifyBatch:         50,
		},
		Providers: Providers{
			SerpAPI: SerpAPI{
				APIKeyEnv:         "SERPAPI_API_KEY",
				BaseURL:           "https://serpapi.com/search",
				RequestsPerSecond: 2,
			},
			Apify: Apify{
				TokenEnv: "APIFY_API_TOKEN",
				BaseURL:  "https://api.apify.com/v2",
			},
			AppStore: AppStore{
				BaseURL: "https://itunes.apple.com",
				Country: "us",
			},
			HTTPTimeoutSeconds: 30,
		},
		Summarization: Summarization{
			Provider:     "gemini",
			GeminiModel:  "gemini-2.5-flash",
			GeminiKeyEnv: "GOOGLE_GENERATIVE_AI_API_KEY",
			OpenAIModel:  "gpt-4o-mini",
			APIKeyEnv:    "OPENAI_API_KEY",
			Model:        "qwen2.5:7b",
			OllamaURL:    "http://localhost:11434",
			MaxTokens:    4096,
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Sync.HistoricalCeilingDays <= 0 {
		return fmt.Errorf("sync.historical_ceiling_days must be positive")
	}
	if c.Sync.StaleLockMinutes <= 0 {
		return fmt.Errorf("sync.stale_lock_minutes must be positive")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabaseDSN returns the DSN to open: the configured one, or a SQLite file in the data dir.
func (c *Config) DatabaseDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return filepath.Join(c.GetDataDir(), "reviewpulse.db")
}

func (s Sync) StaleThreshold() time.Duration {
	return time.Duration(s.StaleLockMinutes) * time.Minute
}

func (s Sync) RunTimeout() time.Duration {
	return time.Duration(s.RunTimeoutSeconds) * time.Second
}

func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (p Providers) HTTPTimeout() time.Duration {
	if p.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.HTTPTimeoutSeconds) * time.Second
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
