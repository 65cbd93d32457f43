// Package config provides configuration management for Shorebase.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with SB_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.shorebase/config.yaml, /etc/shorebase/config.yaml)
//  3. .env files
//  4. Environment variables (SB_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Target: %s@%s\n", cfg.Target.User, cfg.Target.Address)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use SB_ prefix and underscores for nested keys:
//   - SB_TARGET_ADDRESS=203.0.113.10
//   - SB_HARDENING_SSH_PORT=2312
//   - SB_SERVER_PORT=8472
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration structure for Shorebase.
type Config struct {
	// Target describes the host being provisioned
	Target TargetConfig `mapstructure:"target"`

	// Hardening contains OS hardening stage settings
	Hardening HardeningConfig `mapstructure:"hardening"`

	// Services contains per-service container settings
	Services ServicesConfig `mapstructure:"services"`

	// Server contains status API server settings
	Server ServerConfig `mapstructure:"server"`

	// Store contains run history database settings
	Store StoreConfig `mapstructure:"store"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`

	// Security contains status API security settings
	Security SecurityConfig `mapstructure:"security"`
}

// TargetConfig describes the single host to provision.
type TargetConfig struct {
	// Name is the logical host name used in reports
	Name string `mapstructure:"name"`

	// Address is the IP address or DNS name of the host
	Address string `mapstructure:"address"`

	// User is the SSH login user (must have passwordless sudo after hardening)
	User string `mapstructure:"user"`

	// Port is the SSH port of an unprovisioned host (default: 22)
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// KeyPath is the path to the SSH private key
	KeyPath string `mapstructure:"key_path"`

	// Subnet is the trusted LAN CIDR; admin interfaces are only reachable from it
	Subnet string `mapstructure:"subnet" validate:"omitempty,cidr"`

	// ConnectTimeout is the SSH dial timeout
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// HardeningConfig contains OS hardening stage settings.
type HardeningConfig struct {
	// SSHPort is the port sshd listens on after hardening (default: 2312)
	SSHPort int `mapstructure:"ssh_port" validate:"min=1,max=65535"`

	// AdminUser is the non-root account created during hardening
	AdminUser string `mapstructure:"admin_user"`

	// AuthorizedKey is the SSH public key installed for AdminUser
	AuthorizedKey string `mapstructure:"authorized_key"`

	// Upgrade runs a full package upgrade during hardening (default: true)
	Upgrade bool `mapstructure:"upgrade"`

	// Fail2banMaxRetry is the failed-login threshold before a ban
	Fail2banMaxRetry int `mapstructure:"fail2ban_max_retry"`

	// Fail2banBanTime is how long an offending address stays banned
	Fail2banBanTime time.Duration `mapstructure:"fail2ban_ban_time"`
}

// ServicesConfig contains per-service container settings.
type ServicesConfig struct {
	// DataRoot is the host directory holding per-service bind mounts
	DataRoot string `mapstructure:"data_root"`

	// Network is the Docker bridge network all services join
	Network string `mapstructure:"network"`

	// Proxy is the reverse-proxy manager service
	Proxy ProxyConfig `mapstructure:"proxy"`

	// Monitoring is the dashboards service pair
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Share is the file-sharing service
	Share ShareConfig `mapstructure:"share"`

	// Photos is the photo-management service
	Photos PhotosConfig `mapstructure:"photos"`

	// BundlePath optionally points to a YAML file overriding the
	// built-in container specs (image pins, extra env)
	BundlePath string `mapstructure:"bundle_path"`
}

// ProxyConfig configures the reverse-proxy manager container.
type ProxyConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	AdminPort int  `mapstructure:"admin_port" validate:"omitempty,min=1,max=65535"`
}

// MonitoringConfig configures the dashboard containers.
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	GrafanaPort int  `mapstructure:"grafana_port" validate:"omitempty,min=1,max=65535"`
	UptimePort  int  `mapstructure:"uptime_port" validate:"omitempty,min=1,max=65535"`
}

// ShareConfig configures the file-sharing container.
type ShareConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ShareName is the exported share name
	ShareName string `mapstructure:"share_name"`

	// ShareUser is the account allowed to mount the share
	ShareUser string `mapstructure:"share_user"`

	// SharePassword is the password for ShareUser
	SharePassword string `mapstructure:"share_password"`
}

// PhotosConfig configures the photo-management container.
type PhotosConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535"`

	// AdminPassword is the initial admin password for the web UI
	AdminPassword string `mapstructure:"admin_password"`
}

// ServerConfig contains status API server settings.
type ServerConfig struct {
	// Host is the server bind address (default: 127.0.0.1)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8472)
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging
	Debug bool `mapstructure:"debug"`
}

// StoreConfig contains run history database settings.
type StoreConfig struct {
	// Path is the SQLite database file (default: ./shorebase.db)
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, console)
	Format string `mapstructure:"format"`
}

// SecurityConfig contains status API security settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AuthEnabled enables JWT authentication on the status API
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SB_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.shorebase")
		v.AddConfigPath("/etc/shorebase")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicitly specified file may be absent (defaults-only runs);
		// any other read error is fatal either way.
		if cfgFile != "" {
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("SB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.name", "server")
	v.SetDefault("target.port", 22)
	v.SetDefault("target.user", "root")
	v.SetDefault("target.connect_timeout", "15s")

	v.SetDefault("hardening.ssh_port", 2312)
	v.SetDefault("hardening.admin_user", "deploy")
	v.SetDefault("hardening.upgrade", true)
	v.SetDefault("hardening.fail2ban_max_retry", 5)
	v.SetDefault("hardening.fail2ban_ban_time", "1h")

	v.SetDefault("services.data_root", "/opt/services")
	v.SetDefault("services.network", "services")
	v.SetDefault("services.proxy.enabled", true)
	v.SetDefault("services.proxy.admin_port", 81)
	v.SetDefault("services.monitoring.enabled", true)
	v.SetDefault("services.monitoring.grafana_port", 3000)
	v.SetDefault("services.monitoring.uptime_port", 3001)
	v.SetDefault("services.share.enabled", true)
	v.SetDefault("services.share.share_name", "shared")
	v.SetDefault("services.share.share_user", "share")
	v.SetDefault("services.photos.enabled", true)
	v.SetDefault("services.photos.port", 2342)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8472)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("store.path", "./shorebase.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("security.rate_limit", 20)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
}

// Validate checks structural constraints on a loaded configuration.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			e := verrs[0]
			return fmt.Errorf("field %s failed rule %q", e.Namespace(), e.Tag())
		}
		return err
	}

	if cfg.Hardening.SSHPort == 22 {
		return fmt.Errorf("hardening.ssh_port must differ from 22")
	}

	return nil
}

// CheckTarget verifies the fields a remote connection needs. Commands that
// never dial the host (token, plan in offline mode) skip this.
func (c *Config) CheckTarget() error {
	if c.Target.Address == "" {
		return fmt.Errorf("target.address is required")
	}
	if c.Target.User == "" {
		return fmt.Errorf("target.user is required")
	}
	if c.Target.KeyPath == "" {
		return fmt.Errorf("target.key_path is required")
	}
	if c.Target.Subnet == "" {
		return fmt.Errorf("target.subnet is required")
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
