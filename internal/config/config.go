package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "THUMBY"

// Config holds the main configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Thumbnail Thumbnail `mapstructure:"thumbnail"`
	Storage   Storage   `mapstructure:"storage"`
}

// Server holds listener and worker pool configuration.
type Server struct {
	Host            string        `mapstructure:"host"`             // Address to bind
	Port            int           `mapstructure:"port"`             // TCP port to listen on
	Backlog         int           `mapstructure:"backlog"`          // Listen queue length
	Workers         int           `mapstructure:"workers"`          // Number of run loops
	GraceDelay      time.Duration `mapstructure:"grace_delay"`      // Serving time left after a termination signal
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // Wait for open connections on exit
	Mode            string        `mapstructure:"mode"`             // Router mode: debug, release or test
}

// Thumbnail holds request handling limits.
type Thumbnail struct {
	Prefix    string `mapstructure:"prefix"`
	MaxWidth  int    `mapstructure:"max_width"`
	MaxHeight int    `mapstructure:"max_height"`
}

// Storage holds configuration for the source image backend.
type Storage struct {
	Backend string `mapstructure:"backend"`  // "disk" or "s3"
	BaseDir string `mapstructure:"base_dir"` // Images directory for the disk backend

	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	Prefix     string `mapstructure:"prefix"`
	UseSSL     bool   `mapstructure:"use_ssl"`
}

// Storage backends.
const (
	BackendDisk = "disk"
	BackendS3   = "s3"
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8800)
	v.SetDefault("server.backlog", 1024)
	v.SetDefault("server.workers", 4)
	v.SetDefault("server.grace_delay", 2*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("thumbnail.prefix", "/thumb/")
	v.SetDefault("thumbnail.max_width", 1920)
	v.SetDefault("thumbnail.max_height", 1080)

	v.SetDefault("storage.backend", BackendDisk)
	v.SetDefault("storage.base_dir", ".")
}

// bindEnv binds keys that also have a conventional variable outside the
// THUMBY_ namespace.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.mode":        "GIN_MODE",
		"storage.access_key": "S3_ACCESS_KEY",
		"storage.secret_key": "S3_SECRET_KEY",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration from v. Values come, by priority, from bound
// flags, THUMBY_* environment variables, the optional file at path and the
// defaults.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configuration can be served.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}
	if c.Server.Workers <= 0 {
		errs = append(errs, fmt.Errorf("invalid worker count: %d", c.Server.Workers))
	}
	if c.Server.Backlog <= 0 {
		errs = append(errs, fmt.Errorf("invalid backlog: %d", c.Server.Backlog))
	}
	if c.Server.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("invalid grace delay: %s", c.Server.GraceDelay))
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("invalid server mode %q: must be debug, release or test", c.Server.Mode))
	}

	p := c.Thumbnail.Prefix
	if !strings.HasPrefix(p, "/") || !strings.HasSuffix(p, "/") || strings.Count(p, "/") < 2 {
		errs = append(errs, fmt.Errorf("invalid thumbnail prefix %q: must look like /name/", p))
	}
	if c.Thumbnail.MaxWidth <= 0 || c.Thumbnail.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("invalid thumbnail limits: %dx%d", c.Thumbnail.MaxWidth, c.Thumbnail.MaxHeight))
	}

	switch c.Storage.Backend {
	case BackendDisk:
		if c.Storage.BaseDir == "" {
			errs = append(errs, errors.New("storage.base_dir is required for the disk backend"))
		}
	case BackendS3:
		if c.Storage.Endpoint == "" || c.Storage.BucketName == "" {
			errs = append(errs, errors.New("storage.endpoint and storage.bucket_name are required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	return errors.Join(errs...)
}
