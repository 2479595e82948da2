package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/ocs-answerer/internal/store"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Manual   ManualConfig   `yaml:"manual" mapstructure:"manual"`
	Banks    BanksConfig    `yaml:"banks" mapstructure:"banks"`
	AI       AIConfig       `yaml:"ai" mapstructure:"ai"`
	Response ResponseConfig `yaml:"response" mapstructure:"response"`
	Judgment JudgmentConfig `yaml:"judgment" mapstructure:"judgment"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// AllowedOrigins is "*", a comma separated list or a JSON array.
	AllowedOrigins     string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	APIPrefix          string `yaml:"api_prefix" mapstructure:"api_prefix"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// Origins returns the parsed allowed origin list.
func (s ServerConfig) Origins() []string { return ParseOrigins(s.AllowedOrigins) }

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// CacheConfig configures the answer cache.
type CacheConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	Size      int    `yaml:"size" mapstructure:"size"`
	TTLSecs   int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	RedisURL  string `yaml:"redis_url" mapstructure:"redis_url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSecs) * time.Second }

// StoreConfig configures the persisted answer store.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ManualConfig configures the manual bank file.
type ManualConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	Watch          bool   `yaml:"watch" mapstructure:"watch"`
	MinFuzzyRunes  int    `yaml:"min_fuzzy_runes" mapstructure:"min_fuzzy_runes"`
	DebounceMillis int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// BanksConfig configures the remote question banks.
type BanksConfig struct {
	// Config is an inline JSON array of bank definitions.
	Config           string  `yaml:"config" mapstructure:"config"`
	File             string  `yaml:"file" mapstructure:"file"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	HandlerTimeoutMS int     `yaml:"handler_timeout_ms" mapstructure:"handler_timeout_ms"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int     `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// Raw returns the bank definitions, preferring the file when set.
func (b BanksConfig) Raw() ([]byte, error) {
	if b.File == "" {
		return []byte(b.Config), nil
	}
	data, err := os.ReadFile(b.File)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read bank file %s", b.File)
	}
	return data, nil
}

// AIConfig configures the AI fallback.
type AIConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	Model       string `yaml:"model" mapstructure:"model"`
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	AgentPrompt string `yaml:"agent_prompt" mapstructure:"agent_prompt"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// ResponseConfig sets the codes written in the search envelope.
type ResponseConfig struct {
	SuccessCode int `yaml:"success_code" mapstructure:"success_code"`
	ErrorCode   int `yaml:"error_code" mapstructure:"error_code"`
}

// JudgmentConfig sets the canonical true/false judgment tokens.
type JudgmentConfig struct {
	True  string `yaml:"true" mapstructure:"true"`
	False string `yaml:"false" mapstructure:"false"`
}

// legacyEnv maps config keys onto the environment names older
// deployments use, next to the OCS_ prefixed names.
var legacyEnv = map[string]string{
	"server.allowed_origins": "ALLOWED_ORIGINS",
	"server.api_prefix":      "API_PREFIX",
	"log.level":              "LOG_LEVEL",
	"log.file":               "LOG_FILE_PATH",
	"banks.config":           "QUESTION_BANK_CONFIG",
	"banks.timeout_secs":     "QUESTION_BANK_TIMEOUT",
	"ai.provider":            "AI_MODEL_PROVIDER",
	"ai.model":               "AI_MODEL_NAME",
	"ai.key":                 "AI_MODEL_API_KEY",
	"ai.base_url":            "AI_MODEL_BASE_URL",
	"ai.agent_prompt":        "AI_AGENT_PROMPT",
	"response.success_code":  "RESPONSE_CODE_SUCCESS",
	"response.error_code":    "RESPONSE_CODE_ERROR",
}

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) { return LoadFile("") }

// LoadFile is Load with an explicit config file. An empty path searches
// the working directory for an optional config.yaml; a named file must
// exist.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("OCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "OCS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", "*")
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.request_timeout_secs", 90)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("cache.driver", "memory")
	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.ttl_secs", 86400)
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.key_prefix", "ocs:answer:")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "file:ocs_answers.db")
	v.SetDefault("manual.path", "manual_answers.yaml")
	v.SetDefault("manual.watch", true)
	v.SetDefault("manual.min_fuzzy_runes", 4)
	v.SetDefault("manual.debounce_ms", 250)
	v.SetDefault("banks.config", "")
	v.SetDefault("banks.file", "")
	v.SetDefault("banks.timeout_secs", 10)
	v.SetDefault("banks.handler_timeout_ms", 20)
	v.SetDefault("banks.rate_limit", 0)
	v.SetDefault("banks.failure_threshold", 5)
	v.SetDefault("banks.cooldown_secs", 30)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-3.5-turbo")
	v.SetDefault("ai.key", "")
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.timeout_secs", 30)
	v.SetDefault("ai.agent_prompt", "")
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("response.success_code", 1)
	v.SetDefault("response.error_code", 0)
	v.SetDefault("judgment.true", "对")
	v.SetDefault("judgment.false", "错")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.AI.AgentPrompt = strings.ReplaceAll(cfg.AI.AgentPrompt, `\n`, "\n")

	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var problems []string
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, field+" must be one of "+strings.Join(allowed, ", ")+", got "+value)
	}

	check("log.format", c.Log.Format, "json", "console")
	check("cache.driver", c.Cache.Driver, "memory", "redis", "tiered", "none")
	check("store.driver", c.Store.Driver, "sqlite", "postgres", "none")
	check("ai.provider", c.AI.Provider, "openai", "anthropic", "none", "")

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port out of range")
	}
	if (c.Cache.Driver == "memory" || c.Cache.Driver == "tiered") && c.Cache.Size <= 0 {
		problems = append(problems, "cache.size must be positive")
	}
	if c.Store.Driver != "none" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Response.SuccessCode == c.Response.ErrorCode {
		problems = append(problems, "response.success_code and response.error_code must differ")
	}
	if c.Judgment.True == "" || c.Judgment.False == "" || c.Judgment.True == c.Judgment.False {
		problems = append(problems, "judgment.true and judgment.false must be distinct and non-empty")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ParseOrigins accepts "*", a comma separated list, or a JSON array.
// Any wildcard collapses the list to ["*"].
func ParseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"*"}
	}

	var origins []string
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		if err := json.Unmarshal([]byte(raw), &origins); err != nil {
			origins = splitList(raw[1 : len(raw)-1])
		}
	} else {
		origins = splitList(raw)
	}

	out := origins[:0]
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return []string{"*"}
		}
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return parts
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return eris.Wrap(err, "config: create log directory")
		}
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
