package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the prioritization engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Logging   LoggingConfig   `yaml:"logging"`
	Rules     RulesConfig     `yaml:"rules"`
	Triage    TriageConfig    `yaml:"triage"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Learner   LearnerConfig   `yaml:"learner"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StoreConfig locates the SQLite database file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// OracleConfig configures the LLM classification fallback.
type OracleConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls tenant rule-pack loading for triage.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// TriageConfig tunes rule-based classification.
type TriageConfig struct {
	// ConfidenceThreshold is the minimum rule confidence accepted before
	// an item falls through to the oracle.
	ConfidenceThreshold float64 `yaml:"confidenceThreshold"`
}

// ScoringConfig holds the composite score weights. They must sum to 1.
type ScoringConfig struct {
	WSJFWeight      float64 `yaml:"wsjfWeight"`
	ICEWeight       float64 `yaml:"iceWeight"`
	RetentionWeight float64 `yaml:"retentionWeight"`
}

// OptimizerConfig bounds the knapsack solver.
type OptimizerConfig struct {
	CostGranularity float64 `yaml:"costGranularity"`
	MaxBudgetUnits  int     `yaml:"maxBudgetUnits"`
}

// LearnerConfig tunes pattern mining and decay.
type LearnerConfig struct {
	MinSupport     int           `yaml:"minSupport"`
	SharedFraction float64       `yaml:"sharedFraction"`
	MinScoreDelta  float64       `yaml:"minScoreDelta"`
	MinConfidence  float64       `yaml:"minConfidence"`
	FeedbackWindow time.Duration `yaml:"feedbackWindow"`
	DecayAfter     time.Duration `yaml:"decayAfter"`
	DecaySchedule  string        `yaml:"decaySchedule"`
	CacheTTL       time.Duration `yaml:"cacheTTL"`
}

// CacheConfig controls Valkey-backed caching of learned patterns.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PORTFOLIO_ENGINE_CONFIG")
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

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	sum := c.Scoring.WSJFWeight + c.Scoring.ICEWeight + c.Scoring.RetentionWeight
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("scoring weights must sum to 1, got %.3f", sum)
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	if c.Triage.ConfidenceThreshold < 0 || c.Triage.ConfidenceThreshold > 1 {
		return fmt.Errorf("triage confidence threshold must be in [0,1], got %.3f", c.Triage.ConfidenceThreshold)
	}
	if c.Learner.MinConfidence < 0 || c.Learner.MinConfidence > 1 {
		return fmt.Errorf("learner min confidence must be in [0,1], got %.3f", c.Learner.MinConfidence)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache addr is required when cache is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Store:   StoreConfig{Path: "portfolio.db"},
		Oracle:  OracleConfig{Enabled: true},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{},
		Triage:  TriageConfig{ConfidenceThreshold: 0.6},
		Scoring: ScoringConfig{
			WSJFWeight:      0.4,
			ICEWeight:       0.3,
			RetentionWeight: 0.3,
		},
		Optimizer: OptimizerConfig{
			CostGranularity: 1000,
			MaxBudgetUnits:  10000,
		},
		Learner: LearnerConfig{
			MinSupport:     3,
			SharedFraction: 0.7,
			MinScoreDelta:  5,
			MinConfidence:  0.5,
			FeedbackWindow: 180 * 24 * time.Hour,
			DecayAfter:     90 * 24 * time.Hour,
			DecaySchedule:  "0 3 * * *",
			CacheTTL:       5 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTFOLIO_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_ORACLE_ENABLED"); v != "" {
		cfg.Oracle.Enabled = parseBool(v)
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_TRIAGE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Triage.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_DECAY_SCHEDULE"); v != "" {
		cfg.Learner.DecaySchedule = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReadTimeout = d
		}
	}
	if v := os.Getenv("PORTFOLIO_ENGINE_CACHE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.WriteTimeout = d
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
