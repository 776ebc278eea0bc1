package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration shared by the collector
// and the query server
type Config struct {
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
	Storage    StorageConfig    `yaml:"storage"`
	Collector  CollectorConfig  `yaml:"collector"`
	Server     ServerConfig     `yaml:"server"`
	Query      QueryConfig      `yaml:"query"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// KubernetesConfig represents the Kubernetes configuration
type KubernetesConfig struct {
	Mode           string `yaml:"mode"`
	KubeconfigPath string `yaml:"kubeconfig_path"`
}

// StorageConfig represents where partitions live
type StorageConfig struct {
	BaseDir string `yaml:"base_dir"`
	// IANA zone name used for partition days and row timestamps. Empty means
	// the host's local zone.
	Location string `yaml:"location"`
}

// CollectorConfig represents the polling loop configuration
type CollectorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Backoff        time.Duration `yaml:"backoff"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

// ServerConfig represents the query server configuration
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// QueryConfig represents query defaults and limits
type QueryConfig struct {
	DefaultTopN       int           `yaml:"default_top_n"`
	MaxTopN           int           `yaml:"max_top_n"`
	DefaultBucket     time.Duration `yaml:"default_bucket"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	// Partitions decoded in parallel per query
	LoadConcurrency int `yaml:"load_concurrency"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

func defaults() *Config {
	return &Config{
		Kubernetes: KubernetesConfig{
			Mode: "kubeconfig",
		},
		Storage: StorageConfig{
			BaseDir: "data",
		},
		Collector: CollectorConfig{
			Interval:       60 * time.Second,
			Backoff:        10 * time.Second,
			RequestTimeout: 30 * time.Second,
			MetricsAddr:    "0.0.0.0:9102",
		},
		Server: ServerConfig{
			Addr: "0.0.0.0:8050",
		},
		Query: QueryConfig{
			DefaultTopN:       20,
			MaxTopN:           50,
			DefaultBucket:     5 * time.Minute,
			RequestsPerMinute: 120,
			CacheTTL:          30 * time.Second,
			LoadConcurrency:   4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadWithDefaults builds defaults, overlays the optional file, then the
// environment
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
		// Unmarshalling onto the defaults leaves unset keys untouched
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg with any KQM_ variables that are set
func applyEnv(cfg *Config) error {
	cfg.Kubernetes.Mode = getEnv("KQM_KUBE_MODE", cfg.Kubernetes.Mode)
	cfg.Kubernetes.KubeconfigPath = getEnv("KUBECONFIG", cfg.Kubernetes.KubeconfigPath)
	cfg.Kubernetes.KubeconfigPath = getEnv("KQM_KUBECONFIG", cfg.Kubernetes.KubeconfigPath)

	cfg.Storage.BaseDir = getEnv("KQM_DATA_DIR", cfg.Storage.BaseDir)
	cfg.Storage.Location = getEnv("KQM_TIMEZONE", cfg.Storage.Location)

	var err error
	if cfg.Collector.Interval, err = getEnvDuration("KQM_INTERVAL", cfg.Collector.Interval); err != nil {
		return err
	}
	if cfg.Collector.Backoff, err = getEnvDuration("KQM_BACKOFF", cfg.Collector.Backoff); err != nil {
		return err
	}
	if cfg.Collector.RequestTimeout, err = getEnvDuration("KQM_REQUEST_TIMEOUT", cfg.Collector.RequestTimeout); err != nil {
		return err
	}
	cfg.Collector.MetricsAddr = getEnv("KQM_METRICS_ADDR", cfg.Collector.MetricsAddr)

	cfg.Server.Addr = getEnv("KQM_SERVER_ADDR", cfg.Server.Addr)
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}

	cfg.Query.DefaultTopN = getEnvInt("KQM_DEFAULT_TOP_N", cfg.Query.DefaultTopN)
	cfg.Query.MaxTopN = getEnvInt("KQM_MAX_TOP_N", cfg.Query.MaxTopN)
	if cfg.Query.DefaultBucket, err = getEnvDuration("KQM_DEFAULT_BUCKET", cfg.Query.DefaultBucket); err != nil {
		return err
	}
	cfg.Query.RequestsPerMinute = getEnvInt("KQM_REQUESTS_PER_MINUTE", cfg.Query.RequestsPerMinute)
	if cfg.Query.CacheTTL, err = getEnvDuration("KQM_CACHE_TTL", cfg.Query.CacheTTL); err != nil {
		return err
	}
	cfg.Query.LoadConcurrency = getEnvInt("KQM_LOAD_CONCURRENCY", cfg.Query.LoadConcurrency)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KQM_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("KQM_LOG_FILE", cfg.Logging.File)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration in %s: %w", key, err)
	}
	return parsed, nil
}

// TimeLocation resolves Storage.Location
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Storage.Location == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Storage.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid storage location %q: %w", c.Storage.Location, err)
	}
	return loc, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Kubernetes.Mode != "incluster" && c.Kubernetes.Mode != "kubeconfig" {
		return fmt.Errorf("kubernetes mode must be 'incluster' or 'kubeconfig'")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage base dir cannot be empty")
	}
	if _, err := c.TimeLocation(); err != nil {
		return err
	}
	if c.Collector.Interval <= 0 || c.Collector.Backoff <= 0 {
		return fmt.Errorf("collector interval and backoff must be positive")
	}
	if c.Collector.RequestTimeout <= 0 {
		return fmt.Errorf("collector request timeout must be positive")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Query.DefaultTopN <= 0 || c.Query.MaxTopN < c.Query.DefaultTopN {
		return fmt.Errorf("query top_n defaults must satisfy 0 < default_top_n <= max_top_n")
	}
	if c.Query.DefaultBucket <= 0 {
		return fmt.Errorf("query default bucket must be positive")
	}
	if c.Query.RequestsPerMinute < 0 {
		return fmt.Errorf("query requests_per_minute cannot be negative")
	}
	if c.Query.LoadConcurrency <= 0 {
		return fmt.Errorf("query load_concurrency must be positive")
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console'")
	}
	return nil
}
