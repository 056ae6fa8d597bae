// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Prefix namespaces every environment variable, e.g. AGENT_CACHE_BACKEND.
const Prefix = "AGENT"

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"

	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ParamPrefix        string        `envconfig:"PARAM_PREFIX"`
	ShopifyAPIVersion  string        `envconfig:"SHOPIFY_API_VERSION" default:"2024-01"`
	ShopifyAccessToken string        `envconfig:"SHOPIFY_ACCESS_TOKEN"`
	TokenCacheTTL      time.Duration `envconfig:"TOKEN_CACHE_TTL" default:"5m"`

	CacheBackend  string        `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisURL      string        `envconfig:"REDIS_URL"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	CacheCapacity uint64        `envconfig:"CACHE_CAPACITY" default:"10000"`

	ConversationBackend string        `envconfig:"CONVERSATION_BACKEND" default:"memory"`
	StateTable          string        `envconfig:"STATE_TABLE"`
	ConversationTTL     time.Duration `envconfig:"CONVERSATION_TTL" default:"1h"`
	MaxTurns            int           `envconfig:"MAX_TURNS" default:"10"`
	MaxQuestionLength   int           `envconfig:"MAX_QUESTION_LENGTH" default:"500"`

	LLMProvider string        `envconfig:"LLM_PROVIDER" default:"none"`
	LLMModel    string        `envconfig:"LLM_MODEL"`
	LLMTimeout  time.Duration `envconfig:"LLM_TIMEOUT" default:"20s"`

	ExecTimeout      time.Duration `envconfig:"EXEC_TIMEOUT" default:"30s"`
	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"200ms"`
	RetryMultiplier  float64       `envconfig:"RETRY_MULTIPLIER" default:"2"`
	RetryMaxDelay    time.Duration `envconfig:"RETRY_MAX_DELAY" default:"2s"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads the configuration from the environment. When envFile is set,
// its entries are exported into the environment first.
func Load(envFile string) (Config, error) {
	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := exportEnvironment(envFile); err != nil {
			return Config{}, fmt.Errorf("config: load env file: %w", err)
		}
	}
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// exportEnvironment sets every key of a .env-style file as an environment
// variable. Variables already set are left alone.
func exportEnvironment(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	for k, val := range v.AllSettings() {
		key := strings.ToUpper(k)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.ParamPrefix = strings.TrimRight(strings.TrimSpace(c.ParamPrefix), "/")
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	c.ConversationBackend = strings.ToLower(strings.TrimSpace(c.ConversationBackend))
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.LLMProvider == "" {
		c.LLMProvider = ProviderNone
	}
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "pretty" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required"))
	}

	switch c.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.CacheBackend))
	}

	switch c.ConversationBackend {
	case BackendMemory:
	case BackendDynamoDB:
		if strings.TrimSpace(c.StateTable) == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb conversation backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown conversation backend %q", c.ConversationBackend))
	}

	switch c.LLMProvider {
	case ProviderNone, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}

	if c.MaxTurns <= 0 {
		errs = append(errs, errors.New("MAX_TURNS must be positive"))
	}
	if c.MaxQuestionLength <= 0 {
		errs = append(errs, errors.New("MAX_QUESTION_LENGTH must be positive"))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.CacheTTL <= 0 || c.ConversationTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL and CONVERSATION_TTL must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LLMConfigured reports whether a language model backs classification and
// formatting.
func (c Config) LLMConfigured() bool {
	return c.LLMProvider != ProviderNone
}
