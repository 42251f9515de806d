package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "COMMONS"
	defaultHTTPAddress = "0.0.0.0:8080"

	defaultDatabasePath = "commons.db"
	defaultLogLevel     = "info"

	defaultCommentDepthLimit     = 10
	defaultGroupParticipantLimit = 256
	defaultCallParticipantLimit  = 50
)

// AppConfig captures runtime configuration for the coordination service.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	RedisAddress    string
	LogLevel        string
	SessionSecret   string
	SessionIssuer   string
	CommentDepth    int
	GroupLimit      int
	CallLimit       int
	PresenceEnabled bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", "commons")
	configViper.SetDefault("thread.comment_depth", defaultCommentDepthLimit)
	configViper.SetDefault("chat.max_group_participants", defaultGroupParticipantLimit)
	configViper.SetDefault("call.max_participants", defaultCallParticipantLimit)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		RedisAddress:  configViper.GetString("redis.address"),
		LogLevel:      configViper.GetString("log.level"),
		SessionSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer: configViper.GetString("session.issuer"),
		CommentDepth:  configViper.GetInt("thread.comment_depth"),
		GroupLimit:    configViper.GetInt("chat.max_group_participants"),
		CallLimit:     configViper.GetInt("call.max_participants"),
	}
	cfg.PresenceEnabled = strings.TrimSpace(cfg.RedisAddress) != ""

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if c.CommentDepth < 1 {
		return fmt.Errorf("thread.comment_depth must be positive")
	}
	if c.GroupLimit < 2 {
		return fmt.Errorf("chat.max_group_participants must allow at least two members")
	}
	if c.CallLimit < 2 {
		return fmt.Errorf("call.max_participants must allow at least two participants")
	}
	return nil
}
