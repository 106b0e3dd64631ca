package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Upstream    UpstreamConfig            `json:"upstream"`
	Features    FeatureConfig             `json:"features"`
	TTS         TTSConfig                 `json:"tts"`
	Worker      WorkerConfig              `json:"worker"`
}

type BasicConfig struct {
	ServerAddress    string `json:"server_address"`
	Env              string `json:"env"`
	ServiceName      string `json:"service_name"`
	TypingDelayMS    int    `json:"typing_delay_ms"`
	TokenTTLHours    int    `json:"token_ttl_hours"`
	TokenKey         string `json:"token_key"`
	VoiceFallbackURL string `json:"voice_fallback_url"`
	// AllowedOrigins are the widget host patterns allowed on the socket.
	AllowedOrigins []string `json:"allowed_origins"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type UpstreamConfig struct {
	BaseURL           string `json:"base_url"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
	MirrorTranscripts bool   `json:"mirror_transcripts"`
}

// FeatureConfig selects which intake phases run after the demographic questions.
type FeatureConfig struct {
	MotorIntake bool `json:"motor_intake"`
	AddonIntake bool `json:"addon_intake"`
}

type TTSConfig struct {
	VoiceID      string `json:"voice_id"`
	ModelID      string `json:"model_id"`
	OutputFormat string `json:"output_format"`
}

type WorkerConfig struct {
	IdleTimeoutMinutes int `json:"idle_timeout_minutes"`
	QueueSize          int `json:"queue_size"`
	// MinWorkers and MaxWorkers size the pool running insurer calls.
	MinWorkers             int `json:"min_workers"`
	MaxWorkers             int `json:"max_workers"`
	RetentionDays          int `json:"retention_days"`
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
}

// IsProduction reports whether the service runs with env=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.BasicConfig.Env, "production")
}

// IsDevelopment reports whether the service runs with env=development (the default).
func (c *Config) IsDevelopment() bool {
	return c.BasicConfig.Env == "" || strings.EqualFold(c.BasicConfig.Env, "development")
}

// Load reads configuration from the provided path (defaults to config.json).
// A .env file next to the working directory is loaded first so its variables
// can override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream.base_url must be configured")
	}
	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && !strings.HasPrefix(sqliteCfg.DSN, ":memory:") && !strings.HasPrefix(sqliteCfg.DSN, "file:") {
		if !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := getEnv("QUOTEBOT_ENV", ""); v != "" {
		cfg.BasicConfig.Env = v
	}
	if v := getEnv("QUOTEBOT_UPSTREAM_URL", ""); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := getEnv("QUOTEBOT_TOKEN_KEY", ""); v != "" {
		cfg.BasicConfig.TokenKey = v
	}
	if v := getEnv("QUOTEBOT_REDIS_ADDR", ""); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			cfg.Redis.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Redis.Port = p
			}
			cfg.Redis.Enabled = true
		}
	}
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.ServiceName == "" {
		c.BasicConfig.ServiceName = "quotebot"
	}
	if c.BasicConfig.TypingDelayMS <= 0 {
		c.BasicConfig.TypingDelayMS = 1500
	}
	if c.BasicConfig.TokenTTLHours <= 0 {
		c.BasicConfig.TokenTTLHours = 24
	}
	if c.BasicConfig.VoiceFallbackURL == "" {
		c.BasicConfig.VoiceFallbackURL = "https://elevenlabs.io/app/talk-to?agent_id=agent_4601k3adesp7enbbfewxrtqpd4t1"
	}
	if c.TTS.VoiceID == "" {
		c.TTS.VoiceID = "JBFqnCBsd6RMkjVDRZzb"
	}
	if c.TTS.ModelID == "" {
		c.TTS.ModelID = "eleven_multilingual_v2"
	}
	if c.TTS.OutputFormat == "" {
		c.TTS.OutputFormat = "mp3_44100_128"
	}
	if c.Worker.IdleTimeoutMinutes <= 0 {
		c.Worker.IdleTimeoutMinutes = 30
	}
	if c.Worker.QueueSize <= 0 {
		c.Worker.QueueSize = 16
	}
	if c.Worker.MinWorkers <= 0 {
		c.Worker.MinWorkers = 4
	}
	if c.Worker.MaxWorkers < c.Worker.MinWorkers {
		c.Worker.MaxWorkers = c.Worker.MinWorkers * 8
	}
	if c.Worker.RetentionDays <= 0 {
		c.Worker.RetentionDays = 30
	}
	if c.Worker.CleanupIntervalMinutes <= 0 {
		c.Worker.CleanupIntervalMinutes = 60
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
