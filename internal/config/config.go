// Package config loads the orchestrator's YAML configuration: the
// planner backend, admission/approval/budget policy, and storage
// backends the engine is wired against at startup.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/first-fluke/cratos-sub006/internal/admission"
	"github.com/first-fluke/cratos-sub006/internal/toolrunner"
	"github.com/first-fluke/cratos-sub006/pkg/models"
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Planner   PlannerConfig   `yaml:"planner"`
	Engine    EngineConfig    `yaml:"engine"`
	Admission AdmissionConfig `yaml:"admission"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Memory    MemoryConfig    `yaml:"memory"`
	EventLog  EventLogConfig  `yaml:"event_log"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the orchestrator's own listener, when run as a
// long-lived process rather than a one-shot CLI invocation.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// PlannerConfig selects and configures the outbound planner backend.
type PlannerConfig struct {
	Provider     string `yaml:"provider"` // currently only "anthropic"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// EngineConfig mirrors engine.Config's budget fields for YAML loading.
type EngineConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	TokenBudget       int           `yaml:"token_budget"`
	MaxDepth          int           `yaml:"max_depth"`
	WallClock         time.Duration `yaml:"wall_clock"`
	ApprovalThreshold string        `yaml:"approval_threshold"` // low|medium|high
	ApprovalTTL       time.Duration `yaml:"approval_ttl"`
	CollectWindow     time.Duration `yaml:"collect_window"`
}

// AdmissionConfig configures the admission queue's mode.
type AdmissionConfig struct {
	Mode string `yaml:"mode"` // sequential|concurrent|collect
	N    int    `yaml:"n"`    // concurrent slot count, Concurrent mode only
}

// ApprovalConfig is reserved for approval-manager-wide settings beyond
// what EngineConfig already carries (threshold, TTL); currently empty,
// kept as a documented extension point rather than folded away.
type ApprovalConfig struct{}

// MemoryConfig configures the session store.
type MemoryConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// EventLogConfig configures durable event-log storage.
type EventLogConfig struct {
	SQLitePath      string        `yaml:"sqlite_path"` // empty disables durable mirroring
	RetentionPeriod time.Duration `yaml:"retention_period"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// PolicyConfig configures the tool runner's default authorization
// policy (internal/toolrunner.Policy).
type PolicyConfig struct {
	Allow            []string `yaml:"allow"`
	Deny             []string `yaml:"deny"`
	RequireApproval  []string `yaml:"require_approval"`
	RiskThreshold    string   `yaml:"risk_threshold"` // low|medium|high
	DefaultPermitted bool     `yaml:"default_permitted"`
}

// LoggingConfig configures the root slog handler.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	JSON  bool   `yaml:"json"`
}

// Load reads, env-expands, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: expected a single YAML document")
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Planner.Provider == "" {
		cfg.Planner.Provider = "anthropic"
	}
	if cfg.Engine.MaxIterations <= 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.MaxDepth <= 0 {
		cfg.Engine.MaxDepth = 25
	}
	if cfg.Engine.ApprovalThreshold == "" {
		cfg.Engine.ApprovalThreshold = string(models.RiskMedium)
	}
	if cfg.Engine.ApprovalTTL <= 0 {
		cfg.Engine.ApprovalTTL = 10 * time.Minute
	}
	if cfg.Engine.CollectWindow <= 0 {
		cfg.Engine.CollectWindow = admission.DefaultCollectWindow
	}
	if cfg.Admission.Mode == "" {
		cfg.Admission.Mode = "sequential"
	}
	if cfg.Admission.N <= 0 {
		cfg.Admission.N = 4
	}
	if cfg.Memory.TTL <= 0 {
		cfg.Memory.TTL = 24 * time.Hour
	}
	if cfg.EventLog.RetentionPeriod <= 0 {
		cfg.EventLog.RetentionPeriod = 30 * 24 * time.Hour
	}
	if cfg.EventLog.SweepInterval <= 0 {
		cfg.EventLog.SweepInterval = time.Hour
	}
	if cfg.Policy.RiskThreshold == "" {
		cfg.Policy.RiskThreshold = string(models.RiskMedium)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *Config) error {
	switch cfg.Planner.Provider {
	case "anthropic":
		if cfg.Planner.APIKey == "" {
			return fmt.Errorf("config: planner.api_key is required for provider %q", cfg.Planner.Provider)
		}
	default:
		return fmt.Errorf("config: unknown planner.provider %q", cfg.Planner.Provider)
	}

	switch cfg.Admission.Mode {
	case "sequential", "concurrent", "collect":
	default:
		return fmt.Errorf("config: unknown admission.mode %q", cfg.Admission.Mode)
	}

	if _, err := parseRisk(cfg.Engine.ApprovalThreshold); err != nil {
		return fmt.Errorf("config: engine.approval_threshold: %w", err)
	}
	if _, err := parseRisk(cfg.Policy.RiskThreshold); err != nil {
		return fmt.Errorf("config: policy.risk_threshold: %w", err)
	}
	return nil
}

func parseRisk(s string) (models.RiskLevel, error) {
	switch models.RiskLevel(s) {
	case models.RiskLow, models.RiskMedium, models.RiskHigh:
		return models.RiskLevel(s), nil
	default:
		return "", fmt.Errorf("must be one of low, medium, high; got %q", s)
	}
}

// AdmissionMode converts the configured string into admission.Mode.
func (c AdmissionConfig) AdmissionMode() admission.Mode {
	switch c.Mode {
	case "concurrent":
		return admission.Concurrent
	case "collect":
		return admission.Collect
	default:
		return admission.Sequential
	}
}

// ToolPolicy converts the configured policy into a toolrunner.Policy.
func (c PolicyConfig) ToolPolicy() toolrunner.Policy {
	threshold := models.RiskLevel(c.RiskThreshold)
	if threshold == "" {
		threshold = models.RiskMedium
	}
	return toolrunner.Policy{
		Allow:            c.Allow,
		Deny:             c.Deny,
		RequireApproval:  c.RequireApproval,
		RiskThreshold:    threshold,
		DefaultPermitted: c.DefaultPermitted,
	}
}

// RiskLevel converts the configured approval threshold string into a
// models.RiskLevel, defaulting to Medium if unset or invalid (Load
// already validates it, so this only matters for hand-built Configs).
func (c EngineConfig) RiskLevel() models.RiskLevel {
	if risk, err := parseRisk(c.ApprovalThreshold); err == nil {
		return risk
	}
	return models.RiskMedium
}
