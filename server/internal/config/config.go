package config

import (
	"fmt"
	"os"
	"time"

	"spar-talk/server/internal/streak"

	"gopkg.in/yaml.v3"
)

// Config 全局配置。
// 注意：没有任何进程级缓存，配置对象由调用方持有并显式注入；
// 刷新策略（如有）由持有者决定，便于用注入时钟做测试。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Engine  EngineConfig  `yaml:"engine"`
	Session SessionConfig `yaml:"session"`
	Stream  StreamConfig  `yaml:"stream"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig 买家台词生成的 LLM 配置。
type LLMConfig struct {
	Provider  string            `yaml:"provider"` // "openai" or "anthropic"
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`
}

// LLMProviderConfig LLM 提供商配置。
type LLMProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// EngineConfig 陪练引擎的全部运营调参入口。
// 校准常数等手调参数集中在这里，决策代码里不再散落魔法数。
type EngineConfig struct {
	// ReplyTimeout 买家台词生成的硬超时，超时后走固定兜底台词。
	ReplyTimeout time.Duration `yaml:"reply_timeout"`
	// GlobalXPMultiplier 运营可调的全局 XP 旋钮，默认 1.0。
	GlobalXPMultiplier float64 `yaml:"global_xp_multiplier"`
	// Streak 连击引擎参数（阈值、comeback 奖励、校准直线）。
	Streak streak.Config `yaml:"streak"`
}

type SessionConfig struct {
	// StoreType "memory" 或 "redis"。
	StoreType string `yaml:"store_type"`
	RedisAddr string `yaml:"redis_addr"`
	// RedisTTL 会话键的过期时间，0 表示不过期。
	RedisTTL time.Duration `yaml:"redis_ttl"`
}

type StreamConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load 从文件加载配置并应用环境变量覆盖。
func Load(path string) (*Config, error) {
	fmt.Printf("📋 Loading config from: %s\n", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	// 打印关键配置（不含密钥）。
	fmt.Printf("\n📊 Configuration Summary:\n")
	fmt.Printf("   Server: %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   LLM Provider: %s\n", cfg.LLM.Provider)
	fmt.Printf("   Session Store: %s\n", cfg.Session.StoreType)
	fmt.Printf("   Reply Timeout: %s\n", cfg.Engine.ReplyTimeout)
	fmt.Printf("\n")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default 返回一份可直接使用的默认配置（内存存储、openai 提供商）。
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg
}

// applyEnv 从环境变量覆盖敏感信息与部署参数。
func (c *Config) applyEnv() {
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		fmt.Printf("🔑 Using LLM_API_KEY from environment variable\n")
		if c.LLM.Provider == "anthropic" {
			c.LLM.Anthropic.APIKey = key
		} else {
			c.LLM.OpenAI.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.Anthropic.APIKey = key
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Session.StoreType = "redis"
		c.Session.RedisAddr = addr
	}
}

// applyDefaults 补齐零值字段。
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIURL == "" {
		c.LLM.OpenAI.APIURL = "https://api.openai.com/v1"
	}
	if c.LLM.Anthropic.APIURL == "" {
		c.LLM.Anthropic.APIURL = "https://api.anthropic.com/v1"
	}
	if c.Engine.ReplyTimeout == 0 {
		c.Engine.ReplyTimeout = 10 * time.Second
	}
	if c.Engine.GlobalXPMultiplier == 0 {
		c.Engine.GlobalXPMultiplier = 1.0
	}
	c.Engine.Streak = c.Engine.Streak.Normalize()
	if c.Session.StoreType == "" {
		c.Session.StoreType = "memory"
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = 30 * time.Second
	}
	if len(c.Stream.AllowedOrigins) == 0 {
		c.Stream.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
}

// Validate 验证配置。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if c.Session.StoreType == "redis" && c.Session.RedisAddr == "" {
		return fmt.Errorf("redis store requires redis_addr (or REDIS_ADDR env var)")
	}
	return nil
}
