package judgment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
)

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, hash, err := LoadConfigWithHash(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash != "builtin" {
		t.Errorf("expected builtin hash, got %s", hash)
	}
	if cfg.AgeGroup != model.Elementary || cfg.Strictness != model.Moderate {
		t.Errorf("unexpected defaults: %s/%s", cfg.AgeGroup, cfg.Strictness)
	}
	if cfg.EscalationWindow != defaultEscalationWindow {
		t.Errorf("expected escalation window %d, got %d", defaultEscalationWindow, cfg.EscalationWindow)
	}
	if len(cfg.EmergencyKeywords) == 0 {
		t.Error("expected default emergency keywords")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "judgment.yaml")
	content := `
age_group: high_school
strictness_level: lenient
escalation_window: 3
emergency_keywords: ["suicide", "weapon"]
custom_rules:
  - id: GAME-001
    name: Gaming Block
    description: block game sites during school
    conditions:
      category: entertainment
      confidence_min: 0.5
    action: restrict
    priority: 12
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, hash, err := LoadConfigWithHash(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AgeGroup != model.HighSchool {
		t.Errorf("expected high_school, got %s", cfg.AgeGroup)
	}
	if cfg.EscalationWindow != 3 {
		t.Errorf("expected window 3, got %d", cfg.EscalationWindow)
	}
	if len(cfg.CustomRules) != 1 || cfg.CustomRules[0].ID != "GAME-001" {
		t.Errorf("unexpected custom rules: %+v", cfg.CustomRules)
	}
	if hash == "builtin" || hash == "" {
		t.Errorf("expected file hash, got %q", hash)
	}

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("engine rejected config: %v", err)
	}
	r := e.Judge(model.AnalysisResult{Category: model.CategoryEntertainment, Confidence: 0.8})
	if r.AppliedRuleIDs[0] != "GAME-001" {
		t.Errorf("expected custom rule to win, got %v", r.AppliedRuleIDs)
	}
	if r.Action != model.Restrict {
		t.Errorf("expected restrict, got %s", r.Action)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "age_group: [unclosed"},
		{"bad age group", "age_group: toddler"},
		{"bad strictness", "strictness_level: draconian"},
		{"negative window", "escalation_window: -1"},
		{"malformed rule", "custom_rules:\n  - id: ''\n    name: x\n    action: block"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "judgment.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
