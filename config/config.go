package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	// Provider configurations
	Gemini    GeminiConfig
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Bedrock   BedrockConfig

	// Fallback and credential health configuration
	Fallback FallbackConfig
	Health   HealthConfig

	// Cost-control proxy configuration
	Proxy ProxyConfig

	// Per-user quota configuration
	Quota QuotaConfig

	// HTTP configuration
	HTTP HTTPConfig
}

// GeminiConfig holds Google Gemini API configuration
type GeminiConfig struct {
	APIKeys    []string
	TextModel  string
	ImageModel string
	BaseURL    string
	Priority   int
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKeys    []string
	Model      string
	ImageModel string
	MaxTokens  int
	Priority   int
}

// AnthropicConfig holds Anthropic API configuration
type AnthropicConfig struct {
	APIKeys   []string
	Model     string
	MaxTokens int
	Priority  int
}

// BedrockConfig holds AWS Bedrock configuration
type BedrockConfig struct {
	Region       string
	ModelID      string
	ImageModelID string
	Priority     int
}

// FallbackConfig holds orchestrator timing and policy configuration
type FallbackConfig struct {
	AttemptTimeoutSeconds int
	OverallTimeoutSeconds int
	// AttemptUnusable allows attempting cooling-down or unhealthy credentials
	// as a last resort instead of skipping them entirely.
	AttemptUnusable bool
}

// HealthConfig holds credential health threshold configuration
type HealthConfig struct {
	ConsecutiveFailureLimit int
	ErrorRateWindow         int
	ErrorRateLimit          float64
	CooldownSeconds         int
}

// ProxyConfig holds cost-control proxy routing configuration
type ProxyConfig struct {
	Enabled bool
	BaseURL string
}

// QuotaConfig holds per-user quota configuration
type QuotaConfig struct {
	MonthlyLimit int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Addr               string
	CORSAllowedOrigins string
	Production         bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Gemini: GeminiConfig{
			APIKeys:    getEnvStringList("GEMINI_API_KEYS"),
			TextModel:  getEnvString("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
			ImageModel: getEnvString("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image-preview"),
			BaseURL:    getEnvString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models"),
			Priority:   getEnvInt("GEMINI_PRIORITY", 1),
		},
		OpenAI: OpenAIConfig{
			APIKeys:    getEnvStringList("OPENAI_API_KEYS"),
			Model:      getEnvString("OPENAI_MODEL", "gpt-4o"),
			ImageModel: getEnvString("OPENAI_IMAGE_MODEL", "gpt-image-1"),
			MaxTokens:  getEnvInt("OPENAI_MAX_TOKENS", 1000),
			Priority:   getEnvInt("OPENAI_PRIORITY", 2),
		},
		Anthropic: AnthropicConfig{
			APIKeys:   getEnvStringList("ANTHROPIC_API_KEYS"),
			Model:     getEnvString("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			MaxTokens: getEnvInt("ANTHROPIC_MAX_TOKENS", 1000),
			Priority:  getEnvInt("ANTHROPIC_PRIORITY", 3),
		},
		Bedrock: BedrockConfig{
			Region:       os.Getenv("AWS_REGION"),
			ModelID:      os.Getenv("BEDROCK_MODEL_ID"),
			ImageModelID: os.Getenv("BEDROCK_IMAGE_MODEL_ID"),
			Priority:     getEnvInt("BEDROCK_PRIORITY", 4),
		},
		Fallback: FallbackConfig{
			AttemptTimeoutSeconds: getEnvInt("FALLBACK_ATTEMPT_TIMEOUT_SECONDS", 30),
			OverallTimeoutSeconds: getEnvInt("FALLBACK_OVERALL_TIMEOUT_SECONDS", 120),
			AttemptUnusable:       getEnvBool("FALLBACK_ATTEMPT_UNUSABLE", false),
		},
		Health: HealthConfig{
			ConsecutiveFailureLimit: getEnvInt("HEALTH_CONSECUTIVE_FAILURE_LIMIT", 5),
			ErrorRateWindow:         getEnvInt("HEALTH_ERROR_RATE_WINDOW", 20),
			ErrorRateLimit:          getEnvFloat("HEALTH_ERROR_RATE_LIMIT", 0.5),
			CooldownSeconds:         getEnvInt("HEALTH_COOLDOWN_SECONDS", 60),
		},
		Proxy: ProxyConfig{
			Enabled: getEnvBool("PROXY_ENABLED", false),
			BaseURL: os.Getenv("PROXY_BASE_URL"),
		},
		Quota: QuotaConfig{
			MonthlyLimit: getEnvInt("QUOTA_MONTHLY_LIMIT", 40),
		},
		HTTP: HTTPConfig{
			Addr:               getEnvString("HTTP_ADDR", ":8000"),
			CORSAllowedOrigins: getEnvString("CORS_ALLOWED_ORIGINS", "*"),
			Production:         getEnvBool("APP_ENV_PRODUCTION", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.HasGemini() && !c.HasOpenAI() && !c.HasAnthropic() && !c.HasBedrock() {
		return fmt.Errorf("no provider credentials configured: set at least one of GEMINI_API_KEYS, OPENAI_API_KEYS, ANTHROPIC_API_KEYS or AWS_REGION+BEDROCK_MODEL_ID")
	}

	if c.Fallback.AttemptTimeoutSeconds <= 0 {
		return fmt.Errorf("FALLBACK_ATTEMPT_TIMEOUT_SECONDS must be positive, got %d", c.Fallback.AttemptTimeoutSeconds)
	}
	if c.Fallback.OverallTimeoutSeconds <= 0 {
		return fmt.Errorf("FALLBACK_OVERALL_TIMEOUT_SECONDS must be positive, got %d", c.Fallback.OverallTimeoutSeconds)
	}
	if c.Fallback.OverallTimeoutSeconds < c.Fallback.AttemptTimeoutSeconds {
		return fmt.Errorf("FALLBACK_OVERALL_TIMEOUT_SECONDS (%d) must be >= FALLBACK_ATTEMPT_TIMEOUT_SECONDS (%d)",
			c.Fallback.OverallTimeoutSeconds, c.Fallback.AttemptTimeoutSeconds)
	}

	if c.Health.ConsecutiveFailureLimit <= 0 {
		return fmt.Errorf("HEALTH_CONSECUTIVE_FAILURE_LIMIT must be positive, got %d", c.Health.ConsecutiveFailureLimit)
	}
	if c.Health.ErrorRateWindow <= 0 {
		return fmt.Errorf("HEALTH_ERROR_RATE_WINDOW must be positive, got %d", c.Health.ErrorRateWindow)
	}
	if c.Health.ErrorRateLimit <= 0 || c.Health.ErrorRateLimit > 1 {
		return fmt.Errorf("HEALTH_ERROR_RATE_LIMIT must be in (0, 1], got %.2f", c.Health.ErrorRateLimit)
	}
	if c.Health.CooldownSeconds <= 0 {
		return fmt.Errorf("HEALTH_COOLDOWN_SECONDS must be positive, got %d", c.Health.CooldownSeconds)
	}

	if c.Quota.MonthlyLimit <= 0 {
		return fmt.Errorf("QUOTA_MONTHLY_LIMIT must be positive, got %d", c.Quota.MonthlyLimit)
	}

	if c.Proxy.Enabled && c.Proxy.BaseURL == "" {
		return fmt.Errorf("PROXY_BASE_URL is required when PROXY_ENABLED is set")
	}

	return nil
}

// HasGemini returns true if Gemini configuration is available
func (c *Config) HasGemini() bool {
	return len(c.Gemini.APIKeys) > 0
}

// HasOpenAI returns true if OpenAI configuration is available
func (c *Config) HasOpenAI() bool {
	return len(c.OpenAI.APIKeys) > 0
}

// HasAnthropic returns true if Anthropic configuration is available
func (c *Config) HasAnthropic() bool {
	return len(c.Anthropic.APIKeys) > 0
}

// HasBedrock returns true if AWS Bedrock configuration is available
func (c *Config) HasBedrock() bool {
	return c.Bedrock.Region != "" && c.Bedrock.ModelID != ""
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvStringList parses a comma-separated environment variable, trimming
// whitespace and dropping empty entries.
func getEnvStringList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil && parsed >= 0 && parsed <= 1 {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// NewTestConfig creates a Config with default values for testing
func NewTestConfig() *Config {
	return &Config{
		Gemini: GeminiConfig{
			APIKeys:    []string{"test-gemini-key"},
			TextModel:  "gemini-2.5-flash",
			ImageModel: "gemini-2.5-flash-image-preview",
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/models",
			Priority:   1,
		},
		OpenAI: OpenAIConfig{
			APIKeys:    nil,
			Model:      "gpt-4o",
			ImageModel: "gpt-image-1",
			MaxTokens:  1000,
			Priority:   2,
		},
		Anthropic: AnthropicConfig{
			APIKeys:   nil,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1000,
			Priority:  3,
		},
		Bedrock: BedrockConfig{
			Priority: 4,
		},
		Fallback: FallbackConfig{
			AttemptTimeoutSeconds: 30,
			OverallTimeoutSeconds: 120,
			AttemptUnusable:       false,
		},
		Health: HealthConfig{
			ConsecutiveFailureLimit: 5,
			ErrorRateWindow:         20,
			ErrorRateLimit:          0.5,
			CooldownSeconds:         60,
		},
		Proxy: ProxyConfig{
			Enabled: false,
		},
		Quota: QuotaConfig{
			MonthlyLimit: 40,
		},
		HTTP: HTTPConfig{
			Addr:               ":8000",
			CORSAllowedOrigins: "*",
		},
	}
}
