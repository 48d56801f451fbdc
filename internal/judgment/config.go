package judgment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
)

// defaultEscalationWindow is how close (in priority points) a competing
// rule must be to the primary rule to escalate the selected action. The
// width is a tunable, not an analytically derived value.
const defaultEscalationWindow = 5

// defaultHistoryLimit bounds the in-memory judgment history.
const defaultHistoryLimit = 1000

// highRiskConcerns is the fixed set of safety-concern tags that raise the
// emergency flag regardless of keyword matches. Matching is substring,
// case-insensitive, against each reported concern.
var highRiskConcerns = []string{
	"violence",
	"self-harm",
	"dangerous activities",
	"inappropriate content",
}

// Config carries the judgment engine settings.
type Config struct {
	AgeGroup          model.AgeGroup   `yaml:"age_group"`
	Strictness        model.Strictness `yaml:"strictness_level"`
	EmergencyKeywords []string         `yaml:"emergency_keywords"`
	EscalationWindow  int              `yaml:"escalation_window"`
	HistoryLimit      int              `yaml:"history_limit"`
	CustomRules       []Rule           `yaml:"custom_rules"`
}

// DefaultConfig returns the built-in engine configuration.
func DefaultConfig() *Config {
	return &Config{
		AgeGroup:   model.Elementary,
		Strictness: model.Moderate,
		EmergencyKeywords: []string{
			"suicide", "self-harm", "violence", "abuse", "drugs", "weapons",
			"bomb", "explosive", "kill", "hurt", "damage", "destroy", "attack",
			"weapon", "gun", "knife", "poison", "dangerous", "harmful",
		},
		EscalationWindow: defaultEscalationWindow,
		HistoryLimit:     defaultHistoryLimit,
	}
}

// DefaultConfigPath returns the default engine config location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pcagent", "judgment.yaml")
	}
	return filepath.Join(home, ".pcagent", "judgment.yaml")
}

// LoadConfig loads engine configuration from a YAML file. Empty path falls
// back to the default location. A missing file returns defaults; invalid
// YAML or malformed custom rules return an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads the config and returns the SHA-256 of the raw
// file for audit records. Defaults hash to "builtin".
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), "builtin", nil
		}
		return nil, "", fmt.Errorf("read judgment config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("parse judgment config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(data)
	return cfg, "sha256:" + hex.EncodeToString(sum[:]), nil
}

// SaveConfig writes the config as YAML with an atomic rename, creating
// parent directories as needed.
func SaveConfig(path string, cfg *Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal judgment config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write judgment config: %w", err)
	}
	return os.Rename(tmp, path)
}

func (c *Config) validate() error {
	switch c.AgeGroup {
	case model.Elementary, model.MiddleSchool, model.HighSchool:
	default:
		return fmt.Errorf("unknown age_group %q", c.AgeGroup)
	}
	switch c.Strictness {
	case model.Lenient, model.Moderate, model.Strict:
	default:
		return fmt.Errorf("unknown strictness_level %q", c.Strictness)
	}
	if c.EscalationWindow < 0 {
		return fmt.Errorf("escalation_window must not be negative")
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	for _, r := range c.CustomRules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("custom rule: %w", err)
		}
	}
	return nil
}
