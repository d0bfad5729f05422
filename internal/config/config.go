package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Moodflo environment variables.
const EnvPrefix = "MOODFLO_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string  `yaml:"listen_addr"`
	DBPath                string  `yaml:"db_path"`
	ExportDir             string  `yaml:"export_dir"`
	MediaDir              string  `yaml:"media_dir"`
	WindowSeconds         float64 `yaml:"window_seconds"`
	BuildInterval         string  `yaml:"build_interval"`
	ReadyTimeout          string  `yaml:"ready_timeout"`
	SubscriberIdleTimeout string  `yaml:"subscriber_idle_timeout"`
	SessionIdleTimeout    string  `yaml:"session_idle_timeout"`
	InsightsModel         string  `yaml:"insights_model"`
	GDriveFolderID        string  `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string  `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8000",
		DBPath:                "data/moodflo.db",
		ExportDir:             "data/reports",
		MediaDir:              "data/media",
		WindowSeconds:         5.0,
		BuildInterval:         "1s",
		ReadyTimeout:          "30s",
		SubscriberIdleTimeout: "5m",
		SessionIdleTimeout:    "1h",
		InsightsModel:         "openai/gpt-4o-mini",
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedBuildInterval returns BuildInterval as a time.Duration,
// falling back to 1s if the value is invalid.
func (c *Config) ParsedBuildInterval() time.Duration {
	return parseDuration(c.BuildInterval, time.Second)
}

// ParsedReadyTimeout returns ReadyTimeout as a time.Duration,
// falling back to 30s if the value is invalid.
func (c *Config) ParsedReadyTimeout() time.Duration {
	return parseDuration(c.ReadyTimeout, 30*time.Second)
}

// ParsedSubscriberIdleTimeout returns SubscriberIdleTimeout as a
// time.Duration, falling back to 5m if the value is invalid.
func (c *Config) ParsedSubscriberIdleTimeout() time.Duration {
	return parseDuration(c.SubscriberIdleTimeout, 5*time.Minute)
}

// ParsedSessionIdleTimeout returns SessionIdleTimeout as a time.Duration,
// falling back to 1h if the value is invalid.
func (c *Config) ParsedSessionIdleTimeout() time.Duration {
	return parseDuration(c.SessionIdleTimeout, time.Hour)
}

// EffectiveWindowSeconds returns WindowSeconds, falling back to 5 if the
// configured value is not positive.
func (c *Config) EffectiveWindowSeconds() float64 {
	if c.WindowSeconds <= 0 {
		return 5.0
	}
	return c.WindowSeconds
}

// InsightsAPIKey returns the API key matching the configured insights model's
// provider, or "" when the provider is unknown or the key is not set.
func (c *Config) InsightsAPIKey() string {
	switch insightsProvider(c.InsightsModel) {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func insightsProvider(model string) string {
	provider, _, ok := strings.Cut(model, "/")
	if !ok {
		return ""
	}
	return provider
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "MEDIA_DIR"); v != "" {
		cfg.MediaDir = v
	}
	if v := os.Getenv(EnvPrefix + "WINDOW_SECONDS"); v != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
			cfg.WindowSeconds = secs
		}
	}
	if v := os.Getenv(EnvPrefix + "BUILD_INTERVAL"); v != "" {
		cfg.BuildInterval = v
	}
	if v := os.Getenv(EnvPrefix + "READY_TIMEOUT"); v != "" {
		cfg.ReadyTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SUBSCRIBER_IDLE_TIMEOUT"); v != "" {
		cfg.SubscriberIdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "SESSION_IDLE_TIMEOUT"); v != "" {
		cfg.SessionIdleTimeout = v
	}
	if v := os.Getenv(EnvPrefix + "INSIGHTS_MODEL"); v != "" {
		cfg.InsightsModel = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

var providerDisplay = map[string]string{
	"openai":    "OpenAI",
	"anthropic": "Anthropic",
	"gemini":    "Gemini",
}

func validate(cfg *Config) []string {
	var warnings []string

	provider := insightsProvider(cfg.InsightsModel)
	if display, ok := providerDisplay[provider]; ok {
		if cfg.InsightsAPIKey() == "" {
			warnings = append(warnings, fmt.Sprintf(
				"%s API key not configured — report suggestions use built-in rules. Set %s%s_API_KEY.",
				display, EnvPrefix, strings.ToUpper(provider)))
		}
	} else {
		warnings = append(warnings, fmt.Sprintf(
			"Unknown insights provider in model %q — report suggestions use built-in rules.",
			cfg.InsightsModel))
	}

	if cfg.WindowSeconds <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid window_seconds %v — using default 5.", cfg.WindowSeconds))
	}
	for _, d := range []struct{ name, value string }{
		{"build_interval", cfg.BuildInterval},
		{"ready_timeout", cfg.ReadyTimeout},
		{"subscriber_idle_timeout", cfg.SubscriberIdleTimeout},
		{"session_idle_timeout", cfg.SessionIdleTimeout},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using default.", d.name, d.value))
		}
	}

	return warnings
}
