package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Logging  LoggingConfig  `json:"logging"`
	OpenAI   OpenAIConfig   `json:"openai"`
	Ollama   OllamaConfig   `json:"ollama"`
	Models   ModelOverrides `json:"models"`
	Cost     CostConfig     `json:"cost"`
	GpuQueue GpuQueueConfig `json:"gpu_queue"`
	Database DatabaseConfig `json:"database"`
	Routing  RoutingConfig  `json:"routing"`
}

type ServerConfig struct {
	Host             string   `json:"host"`
	Port             int      `json:"port"`
	ReadTimeout      int      `json:"read_timeout"`
	WriteTimeout     int      `json:"write_timeout"`
	IdleTimeout      int      `json:"idle_timeout"`
	CORSAllowOrigins []string `json:"cors_allow_origins"`
}

type AuthConfig struct {
	APIKeys   []string `json:"api_keys"`
	JWTSecret string   `json:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// OpenAIConfig holds the remote cloud provider settings. FallbackDisabled
// is true only when ENABLE_OPENAI_FALLBACK is explicitly "0"; an unset
// variable leaves cloud availability to key presence.
type OpenAIConfig struct {
	APIKey           string  `json:"-"`
	APIKeyTier2      string  `json:"-"`
	Organization     string  `json:"organization"`
	Project          string  `json:"project"`
	BaseURL          string  `json:"base_url"`
	TimeoutSec       int     `json:"timeout_sec"`
	MaxRetries       int     `json:"max_retries"`
	Temperature      float64 `json:"temperature"`
	FallbackDisabled bool    `json:"fallback_disabled"`
}

// Key returns the API key to use, preferring the tier-2 key.
func (c OpenAIConfig) Key() string {
	if c.APIKeyTier2 != "" {
		return c.APIKeyTier2
	}
	return c.APIKey
}

// HasKey reports whether any cloud credential is configured.
func (c OpenAIConfig) HasKey() bool {
	return c.APIKey != "" || c.APIKeyTier2 != ""
}

// OllamaTierParams are the generation parameters for one local model tier.
type OllamaTierParams struct {
	NumCtx        int     `json:"num_ctx"`
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
	Seed          int     `json:"seed"`
	KeepAlive     string  `json:"keep_alive,omitempty"`
}

type OllamaConfig struct {
	BaseURL  string           `json:"base_url"`
	Coder    OllamaTierParams `json:"coder"`
	Instruct OllamaTierParams `json:"instruct"`
}

// ModelOverrides remaps the concrete provider model behind each logical
// backend without touching the routing document.
type ModelOverrides struct {
	OllamaCoder    string `json:"ollama_coder"`
	OllamaInstruct string `json:"ollama_instruct"`
	CodeMini       string `json:"code_mini"`
	CodeStandard   string `json:"code_standard"`
	CodeReasoning  string `json:"code_reasoning"`
	CodeElite      string `json:"code_elite"`
	TextNano       string `json:"text_nano"`
	TextStandard   string `json:"text_standard"`
}

// CostConfig gates per-query spend. Limits are USD per tier name.
type CostConfig struct {
	EnableProtection bool               `json:"enable_protection"`
	PerQueryLimitUSD map[string]float64 `json:"per_query_limit_usd"`
}

// LimitFor returns the per-query USD limit for a tier (default 10.0).
func (c CostConfig) LimitFor(tier string) float64 {
	if v, ok := c.PerQueryLimitUSD[tier]; ok {
		return v
	}
	return 10.0
}

type GpuQueueConfig struct {
	RedisURL   string `json:"redis_url"`
	Enabled    bool   `json:"enabled"`
	MaxWorkers int    `json:"max_workers"`
	TimeoutSec int    `json:"timeout_sec"`
}

type DatabaseConfig struct {
	URL string `json:"-"`
}

// Enabled reports whether usage persistence is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

type RoutingConfig struct {
	DocumentPath      string `json:"document_path"`
	LocalMaxLatencyMs int    `json:"local_max_latency_ms"`
}

func LoadConfig() (*Config, error) {
	redisURL := getEnv("REDIS_URL", "")

	config := &Config{
		Server: ServerConfig{
			Host:             getEnv("HOST", "0.0.0.0"),
			Port:             getEnvAsInt("PORT", 8080),
			ReadTimeout:      getEnvAsInt("SERVER_READ_TIMEOUT", 30),
			WriteTimeout:     getEnvAsInt("SERVER_WRITE_TIMEOUT", 120),
			IdleTimeout:      getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			CORSAllowOrigins: getEnvAsSlice("CORS_ALLOW_ORIGINS", []string{"*"}),
		},
		Auth: AuthConfig{
			APIKeys:   getEnvAsSlice("ROUTER_API_KEYS", nil),
			JWTSecret: getEnv("ROUTER_JWT_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		OpenAI: OpenAIConfig{
			APIKey:           getEnv("OPENAI_API_KEY", ""),
			APIKeyTier2:      getEnv("OPENAI_API_KEY_TIER2", ""),
			Organization:     getEnvFirst([]string{"OPENAI_ORGANIZATION", "OPENAI_ORG"}, ""),
			Project:          getEnv("OPENAI_PROJECT", ""),
			BaseURL:          strings.TrimSuffix(getEnvFirst([]string{"OPENAI_BASE_URL", "OPENAI_API_BASE"}, "https://api.openai.com/v1"), "/"),
			TimeoutSec:       getEnvAsInt("OPENAI_TIMEOUT_SEC", 20),
			MaxRetries:       getEnvAsInt("OPENAI_MAX_RETRIES", 2),
			Temperature:      getEnvAsFloat("OPENAI_TEMPERATURE", 0.0),
			FallbackDisabled: os.Getenv("ENABLE_OPENAI_FALLBACK") == "0",
		},
		Ollama: OllamaConfig{
			BaseURL:  strings.TrimSuffix(getEnvFirst([]string{"OLLAMA_BASE_URL", "OLLAMA_URL"}, "http://localhost:11434"), "/"),
			Coder:    loadOllamaTierParams("OLLAMA_CODER"),
			Instruct: loadOllamaTierParams("OLLAMA_INSTRUCT"),
		},
		Models: ModelOverrides{
			OllamaCoder:    getEnv("OLLAMA_CODER_MODEL", ""),
			OllamaInstruct: getEnv("OLLAMA_INSTRUCT_MODEL", ""),
			CodeMini:       getEnv("OPENAI_CODE_MINI", ""),
			CodeStandard:   getEnv("OPENAI_CODE_STANDARD", ""),
			CodeReasoning:  getEnv("OPENAI_CODE_REASONING", ""),
			CodeElite:      getEnv("OPENAI_CODE_ELITE", ""),
			TextNano:       getEnv("OPENAI_TEXT_NANO", ""),
			TextStandard:   getEnv("OPENAI_TEXT_STANDARD", ""),
		},
		Cost: CostConfig{
			EnableProtection: os.Getenv("ENABLE_COST_PROTECTION") == "1",
			PerQueryLimitUSD: loadCostLimits(),
		},
		GpuQueue: GpuQueueConfig{
			RedisURL:   redisURL,
			Enabled:    redisURL != "" || getEnvAsBool("GPU_QUEUE_ENABLED", false),
			MaxWorkers: getEnvAsInt("GPU_QUEUE_MAX_WORKERS", 1),
			TimeoutSec: getEnvAsInt("GPU_QUEUE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Routing: RoutingConfig{
			DocumentPath:      getEnv("ROUTER_CONFIG", "config/router_config.yaml"),
			LocalMaxLatencyMs: getEnvAsInt("LOCAL_MAX_LATENCY_MS", 0),
		},
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func loadOllamaTierParams(prefix string) OllamaTierParams {
	return OllamaTierParams{
		NumCtx:        getEnvAsIntFirst([]string{prefix + "_NUM_CTX", "OLLAMA_NUM_CTX"}, 4096),
		NumPredict:    getEnvAsIntFirst([]string{prefix + "_NUM_PREDICT", "OLLAMA_NUM_PREDICT"}, -1),
		Temperature:   getEnvAsFloatFirst([]string{prefix + "_TEMPERATURE", "OLLAMA_TEMPERATURE"}, 0.1),
		TopP:          getEnvAsFloat("OLLAMA_TOP_P", 0.9),
		RepeatPenalty: getEnvAsFloat("OLLAMA_REPEAT_PENALTY", 1.1),
		Seed:          getEnvAsInt("OLLAMA_SEED", 42),
		KeepAlive:     getEnvFirst([]string{prefix + "_KEEP_ALIVE", "OLLAMA_KEEP_ALIVE"}, ""),
	}
}

func loadCostLimits() map[string]float64 {
	tiers := []string{"local", "mini", "standard", "reasoning", "elite"}
	limits := make(map[string]float64, len(tiers))
	for _, tier := range tiers {
		limits[tier] = getEnvAsFloat(fmt.Sprintf("MAX_COST_PER_QUERY_%s_USD", strings.ToUpper(tier)), 10.0)
	}
	return limits
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// The gateway boots with zero configuration, so validation only rejects
// values that cannot work at all.
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.GpuQueue.MaxWorkers < 1 {
		return fmt.Errorf("GPU_QUEUE_MAX_WORKERS must be at least 1")
	}

	if config.GpuQueue.TimeoutSec <= 0 {
		return fmt.Errorf("GPU_QUEUE_TIMEOUT must be positive")
	}

	for tier, limit := range config.Cost.PerQueryLimitUSD {
		if limit < 0 {
			return fmt.Errorf("negative cost limit for tier %s", tier)
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFirst(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsIntFirst(keys []string, defaultValue int) int {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsFloatFirst(keys []string, defaultValue float64) float64 {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
				return floatValue
			}
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
