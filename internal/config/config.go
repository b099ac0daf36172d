// Package config loads server settings from defaults, an optional
// twogether.yaml, TWOGETHER_* environment variables and command flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Port          int           `mapstructure:"port"`
	DBPath        string        `mapstructure:"db_path"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AuthRateLimit int           `mapstructure:"auth_rate_limit"`
	// JoinRateLimit is the number of failed invite-code joins an account may
	// make in JoinWindow before further joins are refused.
	JoinRateLimit int           `mapstructure:"join_rate_limit"`
	JoinWindow    time.Duration `mapstructure:"join_window"`
	VAPID         VAPID         `mapstructure:"vapid"`
	Push          Push          `mapstructure:"push"`
}

type VAPID struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	// Subject is the contact URI sent to push services, e.g. mailto:ops@example.com.
	Subject string `mapstructure:"subject"`
}

type Push struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	BroadcastTimeout  time.Duration `mapstructure:"broadcast_timeout"`
	Concurrency       int           `mapstructure:"concurrency"`
	TTL               time.Duration `mapstructure:"ttl"`
	SchedulerInterval time.Duration `mapstructure:"scheduler_interval"`
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	return map[string]any{
		"port":                    8080,
		"db_path":                 "twogether.db",
		"log_level":               "info",
		"log_format":              "text",
		"jwt_secret":              "",
		"token_ttl":               30 * 24 * time.Hour,
		"auth_rate_limit":         10,
		"join_rate_limit":         5,
		"join_window":             15 * time.Minute,
		"vapid.public_key":        "",
		"vapid.private_key":       "",
		"vapid.subject":           "mailto:admin@localhost",
		"push.timeout":            10 * time.Second,
		"push.broadcast_timeout":  30 * time.Second,
		"push.concurrency":        8,
		"push.ttl":                24 * time.Hour,
		"push.scheduler_interval": time.Minute,
	}
}

// flagKeys maps command flag names to config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"db":        "db_path",
	"log-level": "log_level",
}

// Load resolves the configuration for cmd. configFile, when non-empty, must
// exist; otherwise twogether.yaml is looked up in the working directory and
// the user config directory and skipped if absent.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	v := viper.New()

	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("twogether")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "twogether"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("twogether")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("jwt_secret must be at least 16 characters (set TWOGETHER_JWT_SECRET)")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if c.AuthRateLimit <= 0 {
		return errors.New("auth_rate_limit must be positive")
	}
	if c.JoinRateLimit <= 0 || c.JoinWindow <= 0 {
		return errors.New("join_rate_limit and join_window must be positive")
	}
	if (c.VAPID.PublicKey == "") != (c.VAPID.PrivateKey == "") {
		return errors.New("vapid.public_key and vapid.private_key must be set together")
	}
	if c.Push.Concurrency <= 0 {
		return errors.New("push.concurrency must be positive")
	}
	return nil
}
