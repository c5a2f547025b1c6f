// Package config reads settings from flags, MANIM_* environment variables,
// a .env file and an optional manim-server.yaml.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"manim-server/internal/llm"
	"manim-server/internal/render"
)

type Log struct {
	Level      string
	Format     string
	File       string
	WithCaller bool
}

type Render struct {
	Binary      string
	WorkDir     string
	Timeout     time.Duration
	Concurrency int
	SceneName   string
	Quality     string
	CacheTTL    time.Duration
}

// Command is the manim command line scripts are rendered with.
func (r Render) Command(scene string) render.Command {
	return render.Command{Binary: r.Binary, Scene: scene, Quality: r.Quality}
}

type Config struct {
	Listen         string
	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins []string
	RedisURL       string
	QueueEnabled   bool
	SessionIdle    time.Duration

	LLM    llm.Config
	Prompt string
	Render Render
	Log    Log
}

// aliases are the plain environment variable names accepted next to the
// MANIM_ prefixed ones.
var aliases = map[string][]string{
	"jwt-secret":        {"JWT_SECRET_KEY"},
	"allowed-origins":   {"ALLOWED_ORIGINS"},
	"anthropic-api-key": {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"openai-api-key":    {"OPENAI_API_KEY"},
	"database-url":      {"DATABASE_URL"},
	"redis-url":         {"REDIS_URL"},
	"ollama-host":       {"OLLAMA_HOST"},
}

// Init wires v to the environment and the config file. configPath overrides
// the search path when set. A missing config file is not an error.
func Init(v *viper.Viper, configPath string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("[CONFIG] Could not load .env")
	}

	v.SetEnvPrefix("manim")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	for key, names := range aliases {
		envs := append([]string{"MANIM_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return errors.Wrapf(err, "bind %s", key)
		}
	}
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("manim-server")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.manim-server")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "read config")
		}
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("[CONFIG] Loaded configuration")
	return nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("allowed-origins", "*")
	v.SetDefault("session-idle", 2*time.Hour)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.max-tokens", 4096)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("render.binary", "manim")
	v.SetDefault("render.work-dir", "renders")
	v.SetDefault("render.timeout", 5*time.Minute)
	v.SetDefault("render.concurrency", 2)
	v.SetDefault("render.scene-name", "GenScene")
	v.SetDefault("render.cache-ttl", 24*time.Hour)
}

// Load reads the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Listen:       v.GetString("listen"),
		DatabaseURL:  v.GetString("database-url"),
		JWTSecret:    v.GetString("jwt-secret"),
		RedisURL:     v.GetString("redis-url"),
		QueueEnabled: v.GetBool("queue.enabled"),
		SessionIdle:  v.GetDuration("session-idle"),
		LLM: llm.Config{
			Provider:        llm.Provider(v.GetString("llm.provider")),
			Model:           v.GetString("llm.model"),
			MaxTokens:       v.GetInt("llm.max-tokens"),
			Temperature:     v.GetFloat64("llm.temperature"),
			HistoryTokens:   v.GetInt("llm.history-tokens"),
			AnthropicAPIKey: v.GetString("anthropic-api-key"),
			OpenAIAPIKey:    v.GetString("openai-api-key"),
			OpenAIBaseURL:   v.GetString("openai-base-url"),
			StaticReply:     v.GetString("llm.static-reply"),
		},
		Prompt: v.GetString("llm.system-prompt"),
		Render: Render{
			Binary:      v.GetString("render.binary"),
			WorkDir:     v.GetString("render.work-dir"),
			Timeout:     v.GetDuration("render.timeout"),
			Concurrency: v.GetInt("render.concurrency"),
			SceneName:   v.GetString("render.scene-name"),
			Quality:     v.GetString("render.quality"),
			CacheTTL:    v.GetDuration("render.cache-ttl"),
		},
		Log: Log{
			Level:      v.GetString("log-level"),
			Format:     v.GetString("log-format"),
			File:       v.GetString("log-file"),
			WithCaller: v.GetBool("with-caller"),
		},
	}
	for _, origin := range strings.Split(v.GetString("allowed-origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = databaseURLFromParts()
	}
	if host := v.GetString("ollama-host"); host != "" {
		// the ollama client only reads its address from the environment
		if err := os.Setenv("OLLAMA_HOST", host); err != nil {
			return nil, errors.Wrap(err, "set OLLAMA_HOST")
		}
	}
	if cfg.QueueEnabled && cfg.RedisURL == "" {
		return nil, errors.New("queue.enabled requires redis-url")
	}
	return cfg, nil
}

// databaseURLFromParts builds a postgres URL from DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD and DB_NAME. It returns "" when none of them is set.
func databaseURLFromParts() string {
	host, port := os.Getenv("DB_HOST"), os.Getenv("DB_PORT")
	user, password, name := os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), os.Getenv("DB_NAME")
	if host == "" && port == "" && user == "" && password == "" && name == "" {
		return ""
	}
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if name == "" {
		name = "animations"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%s", host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	return u.String()
}
