// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.housereno/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider and model selection, turn limits
//   - Records: path of the project workbook
//   - Ledger: base URL, API token, timeouts
//   - Orchestration: session TTL, cache TTL, fetch limits, deadlines
//   - Planner: keyword tables (data, not code — new vocabulary is a config
//     addition, not a new code path)
//
// Security: sensitive values (the ledger API token) are masked in
// MarshalJSON and String. Validation is fail-fast with sentinel errors that
// callers can check with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidSessionTTL indicates the session TTL is out of range.
	ErrInvalidSessionTTL = errors.New("invalid session TTL")

	// ErrInvalidCacheTTL indicates the ledger cache TTL is out of range.
	ErrInvalidCacheTTL = errors.New("invalid cache TTL")

	// ErrInvalidFetchLimit indicates the recent-fetch limit is out of range.
	ErrInvalidFetchLimit = errors.New("invalid fetch limit")

	// ErrMissingWorkbook indicates no project workbook path is configured.
	ErrMissingWorkbook = errors.New("missing records workbook path")

	// ErrMissingLedgerURL indicates no ledger API base URL is configured.
	ErrMissingLedgerURL = errors.New("missing ledger base URL")

	// ErrInvalidDeadline indicates a timeout or deadline is out of range.
	ErrInvalidDeadline = errors.New("invalid deadline")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (tokens, API keys), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider  string `mapstructure:"provider" json:"provider"`
	ModelName string `mapstructure:"model_name" json:"model_name"`
	MaxRounds int    `mapstructure:"max_rounds" json:"max_rounds"` // model call / dispatch rounds per turn

	// Records store configuration
	WorkbookPath string `mapstructure:"workbook_path" json:"workbook_path"`

	// Ledger API configuration
	LedgerBaseURL string        `mapstructure:"ledger_base_url" json:"ledger_base_url"`
	LedgerToken   string        `mapstructure:"ledger_token" json:"ledger_token"` // SENSITIVE: masked in MarshalJSON
	LedgerTimeout time.Duration `mapstructure:"ledger_timeout" json:"ledger_timeout"`

	// Orchestration limits
	SessionTTL       time.Duration `mapstructure:"session_ttl" json:"session_ttl"`
	SessionSweep     time.Duration `mapstructure:"session_sweep" json:"session_sweep"`
	CacheTTL         time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	RecentFetchLimit int           `mapstructure:"recent_fetch_limit" json:"recent_fetch_limit"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" json:"fetch_timeout"`
	ModelTimeout     time.Duration `mapstructure:"model_timeout" json:"model_timeout"`
	TurnDeadline     time.Duration `mapstructure:"turn_deadline" json:"turn_deadline"`

	// Planner keyword tables. Empty slices fall back to the built-in
	// defaults in the planner package.
	LedgerTerms  []string `mapstructure:"ledger_terms" json:"ledger_terms"`
	RecordsTerms []string `mapstructure:"records_terms" json:"records_terms"`
	SmallTalk    []string `mapstructure:"small_talk" json:"small_talk"`

	// Serve mode
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".housereno")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("max_rounds", 4)

	// Records defaults
	v.SetDefault("workbook_path", "projects.xlsx")

	// Ledger defaults
	v.SetDefault("ledger_base_url", "http://localhost:8090")
	v.SetDefault("ledger_timeout", 5*time.Second)

	// Orchestration defaults
	v.SetDefault("session_ttl", 30*time.Minute)
	v.SetDefault("session_sweep", 5*time.Minute)
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("recent_fetch_limit", 15)
	v.SetDefault("fetch_timeout", 5*time.Second)
	v.SetDefault("model_timeout", 30*time.Second)
	v.SetDefault("turn_deadline", 45*time.Second)

	// Serve defaults
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("rate_burst", 60)
}

// bindEnvVariables binds environment variables explicitly.
//
// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("ledger_token", "HOUSERENO_LEDGER_TOKEN")
	mustBind("ledger_base_url", "HOUSERENO_LEDGER_URL")
	mustBind("workbook_path", "HOUSERENO_WORKBOOK")
	mustBind("provider", "HOUSERENO_PROVIDER")
	mustBind("model_name", "HOUSERENO_MODEL_NAME")
	mustBind("listen_addr", "HOUSERENO_LISTEN_ADDR")
	mustBind("trust_proxy", "HOUSERENO_TRUST_PROXY")
}

// Validate performs fail-fast validation of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidModelName)
	}

	if c.SessionTTL <= 0 || c.SessionTTL > 24*time.Hour {
		return fmt.Errorf("%w: %v (must be in (0, 24h])", ErrInvalidSessionTTL, c.SessionTTL)
	}
	if c.CacheTTL <= 0 || c.CacheTTL > time.Hour {
		return fmt.Errorf("%w: %v (must be in (0, 1h])", ErrInvalidCacheTTL, c.CacheTTL)
	}
	if c.RecentFetchLimit < 1 || c.RecentFetchLimit > 500 {
		return fmt.Errorf("%w: %d (must be in [1, 500])", ErrInvalidFetchLimit, c.RecentFetchLimit)
	}

	if strings.TrimSpace(c.WorkbookPath) == "" {
		return ErrMissingWorkbook
	}
	if strings.TrimSpace(c.LedgerBaseURL) == "" {
		return ErrMissingLedgerURL
	}

	for name, d := range map[string]time.Duration{
		"fetch_timeout": c.FetchTimeout,
		"model_timeout": c.ModelTimeout,
		"turn_deadline": c.TurnDeadline,
	} {
		if d <= 0 || d > 10*time.Minute {
			return fmt.Errorf("%w: %s=%v (must be in (0, 10m])", ErrInvalidDeadline, name, d)
		}
	}

	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked; longer secrets show the
// first and last 2 characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.LedgerToken = maskSecret(a.LedgerToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
