package config

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Provider:         ProviderGemini,
		ModelName:        "gemini-2.5-flash",
		MaxRounds:        4,
		WorkbookPath:     "projects.xlsx",
		LedgerBaseURL:    "http://localhost:8090",
		LedgerTimeout:    5 * time.Second,
		SessionTTL:       30 * time.Minute,
		SessionSweep:     5 * time.Minute,
		CacheTTL:         5 * time.Minute,
		RecentFetchLimit: 15,
		FetchTimeout:     5 * time.Second,
		ModelTimeout:     30 * time.Second,
		TurnDeadline:     45 * time.Second,
		ListenAddr:       ":8080",
		RateBurst:        60,
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Provider = "anthropic" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "  " },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "zero session TTL",
			mutate:  func(c *Config) { c.SessionTTL = 0 },
			wantErr: ErrInvalidSessionTTL,
		},
		{
			name:    "session TTL too large",
			mutate:  func(c *Config) { c.SessionTTL = 48 * time.Hour },
			wantErr: ErrInvalidSessionTTL,
		},
		{
			name:    "negative cache TTL",
			mutate:  func(c *Config) { c.CacheTTL = -time.Minute },
			wantErr: ErrInvalidCacheTTL,
		},
		{
			name:    "fetch limit zero",
			mutate:  func(c *Config) { c.RecentFetchLimit = 0 },
			wantErr: ErrInvalidFetchLimit,
		},
		{
			name:    "missing workbook",
			mutate:  func(c *Config) { c.WorkbookPath = "" },
			wantErr: ErrMissingWorkbook,
		},
		{
			name:    "missing ledger URL",
			mutate:  func(c *Config) { c.LedgerBaseURL = "" },
			wantErr: ErrMissingLedgerURL,
		},
		{
			name:    "zero turn deadline",
			mutate:  func(c *Config) { c.TurnDeadline = 0 },
			wantErr: ErrInvalidDeadline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Validate_Nil(t *testing.T) {
	t.Parallel()

	var cfg *Config
	assert.ErrorIs(t, cfg.Validate(), ErrConfigNil)
}

func TestConfig_FullModelName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider string
		model    string
		want     string
	}{
		{"gemini default", ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{"googleai", ProviderGoogleAI, "gemini-2.5-pro", "googleai/gemini-2.5-pro"},
		{"ollama", ProviderOllama, "llama3.3", "ollama/llama3.3"},
		{"openai", ProviderOpenAI, "gpt-4o", "openai/gpt-4o"},
		{"already qualified", ProviderGemini, "vertexai/gemini-2.5-flash", "vertexai/gemini-2.5-flash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{Provider: tt.provider, ModelName: tt.model}
			assert.Equal(t, tt.want, cfg.FullModelName())
		})
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", ""},
		{"short fully masked", "abc123", maskedValue},
		{"exactly 8 fully masked", "12345678", maskedValue},
		{"long shows edges", "sk-abcdefghijklmnop", "sk<" + maskedValue + ">op"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, maskSecret(tt.secret))
		})
	}
}

func TestConfig_MarshalJSON_MasksToken(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LedgerToken = "sk-super-secret-ledger-token"

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "sk-super-secret-ledger-token")
	assert.Contains(t, string(data), maskedValue)
}

func TestConfig_String_MasksToken(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.LedgerToken = "sk-super-secret-ledger-token"

	s := cfg.String()
	assert.False(t, strings.Contains(s, "sk-super-secret-ledger-token"),
		"String() must not leak the ledger token")
}
