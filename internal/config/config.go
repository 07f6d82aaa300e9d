// Package config assembles runtime configuration from the environment and an
// optional params.yaml. Connection parameters and credentials are consumed
// here, never owned by the pipeline itself.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spendflow/spendflow/internal/categorize"
)

// DB holds the relational store connection parameters.
type DB struct {
	Name     string
	User     string
	Password string
	Host     string
	Port     string
}

// URL renders the pgx connection string.
func (d DB) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name)
}

// Classifier configures the categorization engine.
type Classifier struct {
	Model            string `yaml:"model"`
	MaxWorkers       int    `yaml:"max_workers"`
	MaxAttempts      int    `yaml:"max_attempts"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int    `yaml:"max_backoff_ms"`
	CacheFile        string `yaml:"cache_file"`
}

// RetryPolicy converts the configured backoff values.
func (c Classifier) RetryPolicy() categorize.RetryPolicy {
	return categorize.RetryPolicy{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: time.Duration(c.InitialBackoffMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.MaxBackoffMS) * time.Millisecond,
	}
}

// Inbox configures the worker's statement directories and scan schedule.
type Inbox struct {
	Dir          string `yaml:"dir"`
	ProcessedDir string `yaml:"processed_dir"`
	ErrorDir     string `yaml:"error_dir"`
	ScanSpec     string `yaml:"scan_spec"`
}

// Config is the assembled runtime configuration.
type Config struct {
	DB         DB
	ListenAddr string

	Classifier Classifier          `yaml:"classifier"`
	Inbox      Inbox               `yaml:"inbox"`
	Taxonomy   categorize.Taxonomy `yaml:"taxonomy"`
}

// params is the shape of params.yaml.
type params struct {
	Classifier Classifier          `yaml:"classifier"`
	Inbox      Inbox               `yaml:"inbox"`
	Taxonomy   categorize.Taxonomy `yaml:"taxonomy"`
}

// Load reads .env (if present), the environment, and paramsPath (if present).
// Every setting has a default; a missing params file is not an error.
func Load(paramsPath string) (*Config, error) {
	// .env is a development convenience, absence is normal
	_ = godotenv.Load()

	cfg := &Config{
		DB: DB{
			Name:     envOr("DB_NAME", "spendflow"),
			User:     envOr("DB_USER", "postgres"),
			Password: envOr("DB_PASSWORD", "password"),
			Host:     envOr("DB_HOST", "localhost"),
			Port:     envOr("DB_PORT", "5432"),
		},
		ListenAddr: envOr("LISTEN_ADDR", ":8080"),
		Classifier: Classifier{
			Model:            "gemini-2.5-flash",
			MaxWorkers:       4,
			MaxAttempts:      3,
			InitialBackoffMS: 200,
			MaxBackoffMS:     5000,
		},
		Inbox: Inbox{
			Dir:          "data/raw",
			ProcessedDir: "data/processed",
			ErrorDir:     "data/error",
			ScanSpec:     "@every 1m",
		},
		Taxonomy: DefaultTaxonomy(),
	}

	if paramsPath != "" {
		if err := applyParams(cfg, paramsPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyParams(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading params file: %w", err)
	}

	var p params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing params file: %w", err)
	}

	if p.Classifier.Model != "" {
		cfg.Classifier.Model = p.Classifier.Model
	}
	if p.Classifier.MaxWorkers > 0 {
		cfg.Classifier.MaxWorkers = p.Classifier.MaxWorkers
	}
	if p.Classifier.MaxAttempts > 0 {
		cfg.Classifier.MaxAttempts = p.Classifier.MaxAttempts
	}
	if p.Classifier.InitialBackoffMS > 0 {
		cfg.Classifier.InitialBackoffMS = p.Classifier.InitialBackoffMS
	}
	if p.Classifier.MaxBackoffMS > 0 {
		cfg.Classifier.MaxBackoffMS = p.Classifier.MaxBackoffMS
	}
	if p.Classifier.CacheFile != "" {
		cfg.Classifier.CacheFile = p.Classifier.CacheFile
	}
	if p.Inbox.Dir != "" {
		cfg.Inbox.Dir = p.Inbox.Dir
	}
	if p.Inbox.ProcessedDir != "" {
		cfg.Inbox.ProcessedDir = p.Inbox.ProcessedDir
	}
	if p.Inbox.ErrorDir != "" {
		cfg.Inbox.ErrorDir = p.Inbox.ErrorDir
	}
	if p.Inbox.ScanSpec != "" {
		cfg.Inbox.ScanSpec = p.Inbox.ScanSpec
	}
	if len(p.Taxonomy) > 0 {
		cfg.Taxonomy = p.Taxonomy
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DefaultTaxonomy is the built-in category tree, used when params.yaml does
// not supply one.
func DefaultTaxonomy() categorize.Taxonomy {
	return categorize.Taxonomy{
		{Category: "Food & Dining", Subcategories: []string{"Eat Out", "Grab Food", "Work Lunch"}},
		{Category: "Transportation", Subcategories: []string{"Grab Car", "GetGo Rental Car", "Car Refuel"}},
		{Category: "Shopping", Subcategories: []string{"Online Shopping", "Retail Shop", "Groceries"}},
		{Category: "Utilities", Subcategories: []string{"Mobile Phone", "Cash Card"}},
		{Category: "Others", Subcategories: []string{"Sport", "Leisure", "Gifts", "Household Items", "Renovation Works"}},
	}
}
