package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all control-plane configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Hosts    HostsConfig    `mapstructure:"hosts"`
	EventBus EventBusConfig `mapstructure:"eventBus"`
	Slot     SlotConfig     `mapstructure:"slot"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig holds the Control API's HTTP listen configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SSHConfig holds the credentials used for every managed-host connection.
type SSHConfig struct {
	User           string `mapstructure:"user"`
	PrivateKeyPath string `mapstructure:"privateKeyPath"`
}

// HostsConfig holds the reachable address of each of the four managed-host roles.
type HostsConfig struct {
	App       string `mapstructure:"app"`
	Streaming string `mapstructure:"streaming"`
	Storage   string `mapstructure:"storage"`
	Backup    string `mapstructure:"backup"`
}

// EventBusConfig holds the remote pub/sub broker's endpoint and credential.
type EventBusConfig struct {
	ApiUrl string `mapstructure:"apiUrl"`
	ApiKey string `mapstructure:"apiKey"`
}

// SlotConfig holds the Slot Engine's timing parameters.
type SlotConfig struct {
	GracePeriod           time.Duration `mapstructure:"gracePeriod"`
	DefaultHealthTimeout  time.Duration `mapstructure:"defaultHealthTimeout"`
	DefaultCommandTimeout time.Duration `mapstructure:"defaultCommandTimeout"`
}

// DatabaseConfig holds the local operational ledger's storage path.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds the bearer-token secret for the Control API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables are bound without a prefix, using the exact names
// spec'd for the process: SSH_USER, SSH_PRIVATE_KEY_PATH, APP_HOST,
// STREAMING_HOST, STORAGE_HOST, BACKUP_HOST, EVENT_BUS_API_URL,
// EVENT_BUS_API_KEY, GRACE_PERIOD, DEFAULT_HEALTH_TIMEOUT,
// DEFAULT_COMMAND_TIMEOUT, JWT_SECRET.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ssh.user", "root")
	v.SetDefault("slot.gracePeriod", 48*time.Hour)
	v.SetDefault("slot.defaultHealthTimeout", 60*time.Second)
	v.SetDefault("slot.defaultCommandTimeout", 60*time.Second)
	v.SetDefault("database.path", "./data/codeb-controlplane.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.jwtSecret", "change-me-in-production")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/codeb")
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var envBindings = map[string]string{
	"ssh.user":                  "SSH_USER",
	"ssh.privateKeyPath":        "SSH_PRIVATE_KEY_PATH",
	"hosts.app":                 "APP_HOST",
	"hosts.streaming":           "STREAMING_HOST",
	"hosts.storage":             "STORAGE_HOST",
	"hosts.backup":              "BACKUP_HOST",
	"eventBus.apiUrl":           "EVENT_BUS_API_URL",
	"eventBus.apiKey":           "EVENT_BUS_API_KEY",
	"slot.gracePeriod":          "GRACE_PERIOD",
	"slot.defaultHealthTimeout": "DEFAULT_HEALTH_TIMEOUT",
	"slot.defaultCommandTimeout": "DEFAULT_COMMAND_TIMEOUT",
	"auth.jwtSecret":            "JWT_SECRET",
	"log.level":                 "LOG_LEVEL",
	"log.format":                "LOG_FORMAT",
}

// LoadDefault loads configuration with defaults only, for tests.
func LoadDefault() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		SSH:    SSHConfig{User: "root"},
		Slot: SlotConfig{
			GracePeriod:           48 * time.Hour,
			DefaultHealthTimeout:  60 * time.Second,
			DefaultCommandTimeout: 60 * time.Second,
		},
		Database: DatabaseConfig{Path: "./data/codeb-controlplane.db"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Auth:     AuthConfig{JWTSecret: "change-me-in-production"},
	}
}
