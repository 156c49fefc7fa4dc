package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Providers accepted in llm.provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrNoTimeouts      = errors.New("llm.timeouts must not be empty")
	ErrClusterRange    = errors.New("cluster.min_k must be between 2 and cluster.max_k")
)

type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Source   SourceConfig   `mapstructure:"source"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

type LLMConfig struct {
	Provider    string          `mapstructure:"provider"`
	Model       string          `mapstructure:"model"`
	BaseURL     string          `mapstructure:"base_url"`
	APIKey      string          `mapstructure:"api_key"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Temperature float64         `mapstructure:"temperature"`
	Timeouts    []time.Duration `mapstructure:"timeouts"`
	Pause       time.Duration   `mapstructure:"pause"`
	Disabled    bool            `mapstructure:"disabled"`
}

type PipelineConfig struct {
	BodyLimit   int    `mapstructure:"body_limit"`
	Method      string `mapstructure:"method"`
	Tone        string `mapstructure:"tone"`
	RiskWorkers int    `mapstructure:"risk_workers"`
	LogLimit    int    `mapstructure:"log_limit"`
}

type ClusterConfig struct {
	MinK              int `mapstructure:"min_k"`
	MaxK              int `mapstructure:"max_k"`
	MaxFeatures       int `mapstructure:"max_features"`
	MaxIterations     int `mapstructure:"max_iterations"`
	SamplesPerCluster int `mapstructure:"samples_per_cluster"`
}

// SourceConfig names the batch file the API falls back to when a run
// request carries no messages.
type SourceConfig struct {
	Path          string `mapstructure:"path"`
	LookbackHours int    `mapstructure:"lookback_hours"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// RedisConfig enables the cross-process run lock when URL is set.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockKey string        `mapstructure:"lock_key"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// TelegramConfig enables run notifications when both fields are set.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeouts", []string{"60s", "300s", "1500s"})
	v.SetDefault("llm.pause", "2s")
	v.SetDefault("llm.disabled", false)

	v.SetDefault("pipeline.body_limit", 5000)
	v.SetDefault("pipeline.method", "enhanced")
	v.SetDefault("pipeline.tone", "professional")
	v.SetDefault("pipeline.risk_workers", 4)
	v.SetDefault("pipeline.log_limit", 100)

	v.SetDefault("cluster.min_k", 2)
	v.SetDefault("cluster.max_k", 8)
	v.SetDefault("cluster.max_features", 2000)
	v.SetDefault("cluster.max_iterations", 100)
	v.SetDefault("cluster.samples_per_cluster", 5)

	v.SetDefault("source.path", "")
	v.SetDefault("source.lookback_hours", 24)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "mailpilot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_key", "mailpilot:run-lock")
	v.SetDefault("redis.lock_ttl", "2h")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.development", false)
}

// LoadConfig reads path, when it is not empty, on top of the defaults and
// the environment. Nested keys map to variables such as LLM_MODEL.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if config.LLM.APIKey == "" {
		switch config.LLM.Provider {
		case ProviderOpenAI:
			config.LLM.APIKey = v.GetString("OPENAI_API_KEY")
		case ProviderAnthropic:
			config.LLM.APIKey = v.GetString("ANTHROPIC_API_KEY")
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings no run could start with.
func (c *Config) Validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.LLM.Provider)
	}
	if !c.LLM.Disabled && len(c.LLM.Timeouts) == 0 {
		return ErrNoTimeouts
	}
	for _, t := range c.LLM.Timeouts {
		if t <= 0 {
			return fmt.Errorf("llm.timeouts: %s is not a positive duration", t)
		}
	}
	if c.Cluster.MinK < 2 || c.Cluster.MinK > c.Cluster.MaxK {
		return fmt.Errorf("%w (min_k=%d, max_k=%d)", ErrClusterRange, c.Cluster.MinK, c.Cluster.MaxK)
	}
	if c.Pipeline.BodyLimit <= 0 {
		return fmt.Errorf("pipeline.body_limit must be positive, got %d", c.Pipeline.BodyLimit)
	}
	if c.Source.LookbackHours < 0 {
		return fmt.Errorf("source.lookback_hours must not be negative, got %d", c.Source.LookbackHours)
	}
	return nil
}

// Lookback is the source window as a duration; zero means everything.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Source.LookbackHours) * time.Hour
}
