// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultEnvFile holds the dotenv file read before the environment.
	DefaultEnvFile = ".env"

	// DefaultPort holds the default listen port.
	DefaultPort = 8080

	// DefaultRevision is reported by the info endpoint when no revision is configured.
	DefaultRevision = "unknown"
)

// Config holds the service configuration. Every field is sourced from an
// environment variable named after its mapstructure key in upper case.
type Config struct {
	Server   ServerConfig   `mapstructure:",squash"`
	Database DatabaseConfig `mapstructure:",squash"`
	UI       UIConfig       `mapstructure:",squash"`
	Log      LogConfig      `mapstructure:",squash"`
}

// ServerConfig holds listener and lifecycle settings.
type ServerConfig struct {
	Port              int           `mapstructure:"node_docker_port" validate:"min=1,max=65535"`
	PublicDir         string        `mapstructure:"public_dir" validate:"required"`
	Revision          string        `mapstructure:"app_revision"`
	GracePeriod       time.Duration `mapstructure:"shutdown_grace_period" validate:"min=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	LivenessAwaitPing bool          `mapstructure:"liveness_await_ping"`
}

// DatabaseConfig holds the connection and pool settings.
type DatabaseConfig struct {
	Dialect        string        `mapstructure:"db_dialect" validate:"oneof=mysql postgres sqlite"`
	Host           string        `mapstructure:"db_host"`
	Port           int           `mapstructure:"db_port" validate:"min=0,max=65535"`
	Name           string        `mapstructure:"db_name"`
	User           string        `mapstructure:"db_user"`
	Password       string        `mapstructure:"db_password"`
	PoolMax        int           `mapstructure:"db_pool_max" validate:"min=1"`
	PoolMin        int           `mapstructure:"db_pool_min" validate:"min=0,ltefield=PoolMax"`
	AcquireTimeout time.Duration `mapstructure:"db_pool_acquire" validate:"gt=0"`
	IdleTimeout    time.Duration `mapstructure:"db_pool_idle" validate:"gt=0"`
}

// UIConfig holds the values echoed by the info endpoint.
type UIConfig struct {
	Color   string `mapstructure:"ui_color"`
	Logo    string `mapstructure:"ui_logo"`
	Message string `mapstructure:"ui_message"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"log_format" validate:"oneof=json console"`
}

// Load reads envFile (if present) into the process environment and builds a
// validated Config from the environment. Variables already set in the
// environment take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDatabasePort(cfg.Database.Dialect)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks cfg against its struct constraints.
func Validate(cfg *Config) error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(cfg)
}

// setDefaults registers every key so AutomaticEnv picks it up on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("node_docker_port", DefaultPort)
	v.SetDefault("public_dir", "public")
	v.SetDefault("app_revision", DefaultRevision)
	v.SetDefault("shutdown_grace_period", 5*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("liveness_await_ping", false)

	v.SetDefault("db_dialect", "mysql")
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", 0)
	v.SetDefault("db_name", "")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_pool_max", 5)
	v.SetDefault("db_pool_min", 0)
	v.SetDefault("db_pool_acquire", 30*time.Second)
	v.SetDefault("db_pool_idle", 10*time.Second)

	v.SetDefault("ui_color", "")
	v.SetDefault("ui_logo", "")
	v.SetDefault("ui_message", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

func defaultDatabasePort(dialect string) int {
	switch dialect {
	case "postgres":
		return 5432
	case "sqlite":
		return 0
	default:
		return 3306
	}
}
