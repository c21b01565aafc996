package config

import (
	"os"
	"regexp"
	"time"

	"github.com/echobridge/alexaremote/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// AppConfig is the top-level configuration of the alexaremote CLI.
	AppConfig struct {
		SessionFile string        `yaml:"session_file"` // path of the persisted session blob
		Client      ClientConfig  `yaml:"client"`
		Login       LoginConfig   `yaml:"login"`
		Logger      LoggerConfig  `yaml:"logger"`
		Metrics     MetricsConfig `yaml:"metrics"`
	}

	// ClientConfig tunes the connection engine. Zero values fall back to
	// the upstream-safe defaults in cnst.
	ClientConfig struct {
		AmazonSite      string        `yaml:"amazon_site"`       // e.g. "amazon.com", "amazon.de"
		RequestTimeout  time.Duration `yaml:"request_timeout"`   // per HTTP call
		RequestSpacing  time.Duration `yaml:"request_spacing"`   // minimum gap between calls
		BatchDebounce   time.Duration `yaml:"batch_debounce"`    // announce/speak coalescing window
		BadRequestRetry int           `yaml:"bad_request_retry"` // replay budget for behaviors calls
	}

	// LoginConfig configures the local login proxy server.
	LoginConfig struct {
		Addr string `yaml:"addr"` // listen address, default "127.0.0.1:3000"
	}

	// MetricsConfig configures the prometheus endpoint of the serve command.
	MetricsConfig struct {
		Addr      string    `yaml:"addr"`      // listen address, default ":9090"
		Namespace string    `yaml:"namespace"` // metric namespace, default "alexaremote"
		Buckets   []float64 `yaml:"buckets"`   // histogram buckets in seconds
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*AppConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}
	setDefaults(&cfg)

	return &cfg, cfgPath, nil
}

// Default returns the built-in configuration used when no config file
// exists.
func Default() *AppConfig {
	cfg := &AppConfig{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *AppConfig) {
	if cfg.SessionFile == "" {
		home, _ := os.UserHomeDir()
		cfg.SessionFile = home + "/.alexaremote/session"
	}
	if cfg.Login.Addr == "" {
		cfg.Login.Addr = "127.0.0.1:3000"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "alexaremote"
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
