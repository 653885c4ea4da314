// Package config decodes and validates the settings read by viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/spf13/viper"
)

// DefaultAdminPassword is the historical bootstrap credential.
const DefaultAdminPassword = "admin"

const DefaultDBTimeout = 3 * time.Second

type Config struct {
	DataDir string       `mapstructure:"data_dir"`
	HTTP    HTTPConfig   `mapstructure:"http"`
	DB      DBConfig     `mapstructure:"db"`
	Auth    AuthConfig   `mapstructure:"auth"`
	Local   LocalConfig  `mapstructure:"local"`
	Client  ClientConfig `mapstructure:"client"`
	Log     LogConfig    `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	StaticDir    string        `mapstructure:"static_dir"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DBConfig selects PostgreSQL when Host is set and SQLite at Path otherwise.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"`
	// Timeout bounds every call to the store before falling back.
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectRetries int           `mapstructure:"connect_retries"`
}

func (c DBConfig) UsePostgres() bool {
	return c.Host != ""
}

type AuthConfig struct {
	AdminPassword string        `mapstructure:"admin_password"`
	SessionSecret string        `mapstructure:"session_secret"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	SecureCookie  bool          `mapstructure:"secure_cookie"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

// LocalConfig is the fallback store of the server.
type LocalConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"`
	Path        string `mapstructure:"path"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	Iterations  int    `mapstructure:"iterations"`
}

type ClientConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	DataDir   string        `mapstructure:"data_dir"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("http.addr", ":3000")
	v.SetDefault("http.static_dir", "")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)

	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "portal")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "portal")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "")
	v.SetDefault("db.timeout", DefaultDBTimeout)
	v.SetDefault("db.connect_retries", 10)

	v.SetDefault("auth.admin_password", DefaultAdminPassword)
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.max_sessions", 10000)
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("local.enabled", true)
	v.SetDefault("local.backend", "sqlite")
	v.SetDefault("local.path", "")
	v.SetDefault("local.redis_url", "")
	v.SetDefault("local.redis_prefix", "portal:")
	v.SetDefault("local.iterations", 0)

	v.SetDefault("client.server_url", "http://localhost:3000")
	v.SetDefault("client.data_dir", "")
	v.SetDefault("client.timeout", 3*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load decodes v into a Config, fills derived paths and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.DB.Path == "" {
		cfg.DB.Path = filepath.Join(cfg.DataDir, "portal.db")
	}
	if cfg.Local.Path == "" {
		cfg.Local.Path = filepath.Join(cfg.DataDir, "local.db")
	}
	if cfg.Client.DataDir == "" {
		cfg.Client.DataDir = filepath.Join(cfg.DataDir, "client")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.HTTP),
		validation.Field(&c.DB),
		validation.Field(&c.Auth),
		validation.Field(&c.Local),
		validation.Field(&c.Client),
		validation.Field(&c.Log),
	)
}

func (c HTTPConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Addr, validation.Required),
	)
}

func (c DBConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ConnectRetries, validation.Min(1)),
	)
	if err != nil {
		return err
	}
	if c.UsePostgres() {
		return validation.ValidateStruct(&c,
			validation.Field(&c.Port, validation.Required, validation.Max(65535)),
			validation.Field(&c.User, validation.Required),
			validation.Field(&c.Name, validation.Required),
			validation.Field(&c.SSLMode, validation.In("disable", "allow", "prefer", "require", "verify-ca", "verify-full")),
		)
	}
	return validation.ValidateStruct(&c, validation.Field(&c.Path, validation.Required))
}

func (c AuthConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.AdminPassword, validation.Required),
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.MaxSessions, validation.Required, validation.Min(1)),
	)
	if err != nil {
		return err
	}
	if c.BcryptCost != 0 && (c.BcryptCost < 4 || c.BcryptCost > 31) {
		return errors.New("bcrypt_cost: must be between 4 and 31")
	}
	return nil
}

func (c LocalConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In("sqlite", "redis")),
		validation.Field(&c.Iterations, validation.Min(0)),
	)
	if err != nil {
		return err
	}
	if c.Backend == "redis" {
		return validation.ValidateStruct(&c, validation.Field(&c.RedisURL, validation.Required))
	}
	return validation.ValidateStruct(&c, validation.Field(&c.Path, validation.Required))
}

func (c ClientConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServerURL, validation.Required, is.URL),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

func (c LogConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Level, validation.In("trace", "debug", "info", "warn", "warning", "error", "fatal", "panic")),
		validation.Field(&c.Format, validation.In("text", "json")),
	)
}
