package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/detectra/detectra/internal/utils"
)

// Config captures the settings required to run the detectra client and its surfaces.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Clients        ClientsConfig        `yaml:"clients"`
	Logging        LoggingConfig        `yaml:"logging"`
	Interpretation InterpretationConfig `yaml:"interpretation"`
	Cache          CacheConfig          `yaml:"cache"`
	Predict        PredictConfig        `yaml:"predict"`
}

// ServerConfig controls the browser-facing HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"DETECTRA_SERVER_ADDRESS"`
	MetricsAddress  string        `yaml:"metricsAddress" env:"DETECTRA_METRICS_ADDRESS"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout" env:"DETECTRA_GRACEFUL_TIMEOUT"`
	SessionTTL      time.Duration `yaml:"sessionTTL" env:"DETECTRA_SESSION_TTL"`
	MaxSessions     int           `yaml:"maxSessions" env:"DETECTRA_MAX_SESSIONS"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes" env:"DETECTRA_MAX_UPLOAD_BYTES"`
}

// ClientsConfig groups integrations with remote services.
type ClientsConfig struct {
	Classifier ClassifierClientConfig `yaml:"classifier"`
}

// ClassifierClientConfig configures access to the tumor classification service.
type ClassifierClientConfig struct {
	BaseURL       string        `yaml:"baseURL" env:"DETECTRA_CLASSIFIER_URL"`
	PredictPath   string        `yaml:"predictPath" env:"DETECTRA_CLASSIFIER_PREDICT_PATH"`
	FeedbackPath  string        `yaml:"feedbackPath" env:"DETECTRA_CLASSIFIER_FEEDBACK_PATH"`
	ModelInfoPath string        `yaml:"modelInfoPath" env:"DETECTRA_CLASSIFIER_MODEL_INFO_PATH"`
	Timeout       time.Duration `yaml:"timeout" env:"DETECTRA_CLASSIFIER_TIMEOUT"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"DETECTRA_LOG_LEVEL"`
	JSON       bool   `yaml:"json" env:"DETECTRA_LOG_JSON"`
	File       string `yaml:"file" env:"DETECTRA_LOG_FILE"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"DETECTRA_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"DETECTRA_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"DETECTRA_LOG_MAX_AGE_DAYS"`
}

// InterpretationConfig points at the label and guidance pack.
type InterpretationConfig struct {
	PackPath string `yaml:"packPath" env:"DETECTRA_INTERPRETATION_PACK"`
}

// CacheConfig controls in-process caching of model metadata.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" env:"DETECTRA_CACHE_ENABLED"`
	Size         int           `yaml:"size" env:"DETECTRA_CACHE_SIZE"`
	ModelInfoTTL time.Duration `yaml:"modelInfoTTL" env:"DETECTRA_CACHE_MODEL_INFO_TTL"`
}

// PredictConfig holds defaults for the predict workflow.
type PredictConfig struct {
	Explain        bool          `yaml:"explain" env:"DETECTRA_PREDICT_EXPLAIN"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"DETECTRA_PREDICT_REQUEST_TIMEOUT"`
}

// LogOptions adapts the logging section for utils.NewLogger.
func (c LoggingConfig) LogOptions() utils.LogOptions {
	return utils.LogOptions{
		Level:      c.Level,
		JSON:       c.JSON,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
	}
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DETECTRA_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.MaxSessions < 0 {
		return fmt.Errorf("server.maxSessions must not be negative")
	}
	if c.Server.MaxUploadBytes < 0 {
		return fmt.Errorf("server.maxUploadBytes must not be negative")
	}
	if c.Clients.Classifier.Timeout < 0 || c.Predict.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			SessionTTL:      30 * time.Minute,
			MaxSessions:     1024,
			MaxUploadBytes:  20 << 20,
		},
		Clients: ClientsConfig{
			Classifier: ClassifierClientConfig{
				BaseURL:       "http://localhost:8000",
				PredictPath:   "/predict-image",
				FeedbackPath:  "/feedback",
				ModelInfoPath: "/model-info",
				Timeout:       30 * time.Second,
			},
		},
		Logging: LoggingConfig{Level: "info", JSON: false, MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
		Interpretation: InterpretationConfig{
			PackPath: "configs/interpretation/default.yaml",
		},
		Cache: CacheConfig{
			Enabled:      true,
			Size:         64,
			ModelInfoTTL: 5 * time.Minute,
		},
		Predict: PredictConfig{
			Explain:        true,
			RequestTimeout: 60 * time.Second,
		},
	}
}
