package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":5000"
	DefaultCozeBaseURL    = "https://api.coze.cn"
	DefaultOneBotURL      = "http://127.0.0.1:5700"
	DefaultSessionTTL     = 1800
	DefaultSweepSchedule  = "@every 1m"
	DefaultStreamTimeout  = 120
	DefaultFallbackTime   = 60
	DefaultPollIntervalMs = 1000
	DefaultSendTimeout    = 10
	DefaultPaceMs         = 500
	DefaultImageKeyword   = "funny meme"
	DefaultImageCachePath = "cache.txt"
	DefaultImageMaxPages  = 5
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Coze        CozeConfig        `toml:"coze"`
	OneBot      OneBotConfig      `toml:"onebot"`
	Session     SessionConfig     `toml:"session"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	ImageSearch ImageSearchConfig `toml:"image_search"`
	Commands    []CommandConfig   `toml:"commands" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Format string `toml:"format" env:"LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" env:"SERVER_ADDR" validate:"required"`
	// AccessToken, when set, must be presented as a bearer token on the webhook.
	AccessToken string `toml:"access_token" env:"SERVER_ACCESS_TOKEN"`
}

type CozeConfig struct {
	APIKey                 string `toml:"api_key" env:"COZE_API_KEY" validate:"required"`
	BotID                  string `toml:"bot_id" env:"COZE_BOT_ID" validate:"required"`
	SpaceID                string `toml:"space_id" env:"COZE_SPACE_ID"`
	BaseURL                string `toml:"base_url" env:"COZE_BASE_URL" validate:"required,url"`
	StreamTimeoutSeconds   int    `toml:"stream_timeout_seconds" validate:"gte=0"`
	FallbackTimeoutSeconds int    `toml:"fallback_timeout_seconds" validate:"gte=0"`
	PollIntervalMillis     int    `toml:"poll_interval_ms" validate:"gte=0"`
}

type OneBotConfig struct {
	BaseURL            string `toml:"base_url" env:"BOT_HTTP_URL" validate:"required,url"`
	Token              string `toml:"token" env:"BOT_TOKEN"`
	SelfQQ             string `toml:"self_qq" env:"BOT_QQ" validate:"omitempty,numeric"`
	SendTimeoutSeconds int    `toml:"send_timeout_seconds" validate:"gte=0"`
}

type SessionConfig struct {
	TTLSeconds    int    `toml:"ttl_seconds" validate:"gte=0"`
	SweepSchedule string `toml:"sweep_schedule"`
}

type DispatchConfig struct {
	PaceMillis int `toml:"pace_ms" validate:"gte=0"`
}

type ImageSearchConfig struct {
	Endpoint  string `toml:"endpoint" validate:"omitempty,url"`
	Keyword   string `toml:"keyword"`
	CachePath string `toml:"cache_path"`
	MaxPages  int    `toml:"max_pages" validate:"gte=0,lte=50"`
}

// CommandConfig is a literal message that is answered with a canned reply
// instead of going to the AI backend.
type CommandConfig struct {
	Trigger string `toml:"trigger" validate:"required"`
	// Mention is the QQ to mention; empty mentions the sender.
	Mention   string `toml:"mention" validate:"omitempty,numeric"`
	Text      string `toml:"text" validate:"required"`
	WithImage bool   `toml:"with_image"`
}

func (c CozeConfig) StreamTimeout() time.Duration {
	return time.Duration(c.StreamTimeoutSeconds) * time.Second
}

func (c CozeConfig) FallbackTimeout() time.Duration {
	return time.Duration(c.FallbackTimeoutSeconds) * time.Second
}

func (c CozeConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c OneBotConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c DispatchConfig) Pace() time.Duration {
	return time.Duration(c.PaceMillis) * time.Millisecond
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Coze: CozeConfig{
			BaseURL:                DefaultCozeBaseURL,
			StreamTimeoutSeconds:   DefaultStreamTimeout,
			FallbackTimeoutSeconds: DefaultFallbackTime,
			PollIntervalMillis:     DefaultPollIntervalMs,
		},
		OneBot: OneBotConfig{
			BaseURL:            DefaultOneBotURL,
			SendTimeoutSeconds: DefaultSendTimeout,
		},
		Session: SessionConfig{
			TTLSeconds:    DefaultSessionTTL,
			SweepSchedule: DefaultSweepSchedule,
		},
		Dispatch: DispatchConfig{
			PaceMillis: DefaultPaceMs,
		},
		ImageSearch: ImageSearchConfig{
			Keyword:   DefaultImageKeyword,
			CachePath: DefaultImageCachePath,
			MaxPages:  DefaultImageMaxPages,
		},
		Commands: []CommandConfig{
			{Trigger: "/pic", Text: "here is a picture for you", WithImage: true},
			{Trigger: "/poke", Text: "someone poked you"},
			{Trigger: "/kick", Text: "someone gave you a kick"},
		},
	}
}

// Load reads path (a missing file is fine) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		// A [[commands]] list in the file replaces the defaults instead of merging into them.
		cfg.Commands = nil
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
		if !md.IsDefined("commands") {
			cfg.Commands = Default().Commands
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
