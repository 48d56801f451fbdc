package judgment

import (
	"fmt"
	"strings"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
)

// Conditions is the predicate a rule applies to an analysis result.
// Zero-value fields are unspecified and match everything.
type Conditions struct {
	Category          model.Category `yaml:"category,omitempty" json:"category,omitempty"`
	ConfidenceMin     *float64       `yaml:"confidence_min,omitempty" json:"confidence_min,omitempty"`
	ConfidenceMax     *float64       `yaml:"confidence_max,omitempty" json:"confidence_max,omitempty"`
	EmergencyKeywords bool           `yaml:"emergency_keywords,omitempty" json:"emergency_keywords,omitempty"`
	SafetyConcerns    []string       `yaml:"safety_concerns,omitempty" json:"safety_concerns,omitempty"`
}

// Rule is a single judgment rule. Rules are immutable once added to the
// engine; the rule set only grows, or individual rules are disabled.
type Rule struct {
	ID               string             `yaml:"id" json:"id"`
	Name             string             `yaml:"name" json:"name"`
	Description      string             `yaml:"description" json:"description"`
	Conditions       Conditions         `yaml:"conditions" json:"conditions"`
	Action           model.Action       `yaml:"action" json:"action"`
	Priority         int                `yaml:"priority" json:"priority"`
	AgeGroups        []model.AgeGroup   `yaml:"age_groups,omitempty" json:"age_groups,omitempty"`
	StrictnessLevels []model.Strictness `yaml:"strictness_levels,omitempty" json:"strictness_levels,omitempty"`
	Enabled          bool               `yaml:"enabled" json:"enabled"`
}

// Validate rejects malformed rules before they enter the rule set.
// A rule is accepted whole or not at all.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("rule id must not be empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule %q: name must not be empty", r.ID)
	}
	if !model.ValidAction(r.Action) {
		return fmt.Errorf("rule %q: unknown action %q", r.ID, r.Action)
	}
	if r.Conditions.ConfidenceMin != nil {
		if v := *r.Conditions.ConfidenceMin; v < 0 || v > 1 {
			return fmt.Errorf("rule %q: confidence_min %v out of [0,1]", r.ID, v)
		}
	}
	if r.Conditions.ConfidenceMax != nil {
		if v := *r.Conditions.ConfidenceMax; v < 0 || v > 1 {
			return fmt.Errorf("rule %q: confidence_max %v out of [0,1]", r.ID, v)
		}
	}
	if r.Conditions.ConfidenceMin != nil && r.Conditions.ConfidenceMax != nil &&
		*r.Conditions.ConfidenceMin > *r.Conditions.ConfidenceMax {
		return fmt.Errorf("rule %q: confidence_min exceeds confidence_max", r.ID)
	}
	return nil
}

// appliesTo reports whether the rule is in scope for the configured age
// group and strictness level. Empty lists mean "all".
func (r Rule) appliesTo(age model.AgeGroup, strictness model.Strictness) bool {
	if len(r.AgeGroups) > 0 && !containsAge(r.AgeGroups, age) {
		return false
	}
	if len(r.StrictnessLevels) > 0 && !containsStrictness(r.StrictnessLevels, strictness) {
		return false
	}
	return true
}

// matches reports whether the rule conditions hold for the analysis result.
// The emergency flag is computed once per judgment and passed in so the
// keyword scan is not repeated per rule.
func (r Rule) matches(result model.AnalysisResult, emergency bool) bool {
	c := r.Conditions

	if c.Category != "" && result.Category != c.Category {
		return false
	}
	if c.ConfidenceMin != nil && result.Confidence < *c.ConfidenceMin {
		return false
	}
	if c.ConfidenceMax != nil && result.Confidence > *c.ConfidenceMax {
		return false
	}
	if c.EmergencyKeywords && !emergency {
		return false
	}
	if len(c.SafetyConcerns) > 0 && !overlaps(c.SafetyConcerns, result.SafetyConcerns) {
		return false
	}
	return true
}

func containsAge(groups []model.AgeGroup, g model.AgeGroup) bool {
	for _, v := range groups {
		if v == g {
			return true
		}
	}
	return false
}

func containsStrictness(levels []model.Strictness, s model.Strictness) bool {
	for _, v := range levels {
		if v == s {
			return true
		}
	}
	return false
}

func overlaps(required, present []string) bool {
	for _, r := range required {
		for _, p := range present {
			if r == p {
				return true
			}
		}
	}
	return false
}

func confPtr(v float64) *float64 { return &v }

// builtinRules returns the default rule set. Priorities and IDs are part
// of the engine's documented behavior and must not drift.
func builtinRules() []Rule {
	return []Rule{
		{
			ID:          "EDU-001",
			Name:        "Educational Content",
			Description: "Allow educational content with monitoring",
			Conditions:  Conditions{Category: model.CategoryEducational, ConfidenceMin: confPtr(0.7)},
			Action:      model.Allow,
			Priority:    10,
			Enabled:     true,
		},
		{
			ID:          "SAFE-001",
			Name:        "Safe Content",
			Description: "Allow safe content",
			Conditions:  Conditions{Category: model.CategorySafe, ConfidenceMin: confPtr(0.8)},
			Action:      model.Allow,
			Priority:    8,
			Enabled:     true,
		},
		{
			ID:               "ENT-001",
			Name:             "Entertainment - Elementary",
			Description:      "Monitor entertainment content for elementary students",
			Conditions:       Conditions{Category: model.CategoryEntertainment, ConfidenceMin: confPtr(0.6)},
			Action:           model.Monitor,
			Priority:         5,
			AgeGroups:        []model.AgeGroup{model.Elementary},
			StrictnessLevels: []model.Strictness{model.Moderate, model.Strict},
			Enabled:          true,
		},
		{
			ID:               "ENT-002",
			Name:             "Entertainment - High School",
			Description:      "Allow entertainment content for high school students",
			Conditions:       Conditions{Category: model.CategoryEntertainment, ConfidenceMin: confPtr(0.6)},
			Action:           model.Allow,
			Priority:         5,
			AgeGroups:        []model.AgeGroup{model.HighSchool},
			StrictnessLevels: []model.Strictness{model.Lenient, model.Moderate},
			Enabled:          true,
		},
		{
			ID:               "SOC-001",
			Name:             "Social Content - Elementary",
			Description:      "Restrict social content for elementary students",
			Conditions:       Conditions{Category: model.CategorySocial},
			Action:           model.Restrict,
			Priority:         7,
			AgeGroups:        []model.AgeGroup{model.Elementary},
			StrictnessLevels: []model.Strictness{model.Moderate, model.Strict},
			Enabled:          true,
		},
		{
			ID:               "SOC-002",
			Name:             "Social Content - Middle/High School",
			Description:      "Monitor social content for older students",
			Conditions:       Conditions{Category: model.CategorySocial},
			Action:           model.Monitor,
			Priority:         6,
			AgeGroups:        []model.AgeGroup{model.MiddleSchool, model.HighSchool},
			StrictnessLevels: []model.Strictness{model.Lenient, model.Moderate},
			Enabled:          true,
		},
		{
			ID:          "CONC-001",
			Name:        "Concerning Content",
			Description: "Block concerning content",
			Conditions:  Conditions{Category: model.CategoryConcerning},
			Action:      model.Block,
			Priority:    15,
			Enabled:     true,
		},
		{
			ID:          "INAP-001",
			Name:        "Inappropriate Content",
			Description: "Block inappropriate content",
			Conditions:  Conditions{Category: model.CategoryInappropriate},
			Action:      model.Block,
			Priority:    20,
			Enabled:     true,
		},
		{
			ID:          "DANG-001",
			Name:        "Dangerous Content",
			Description: "Block dangerous content immediately",
			Conditions:  Conditions{Category: model.CategoryDangerous},
			Action:      model.Block,
			Priority:    25,
			Enabled:     true,
		},
		{
			ID:          "EMERG-001",
			Name:        "Emergency Keywords",
			Description: "Block content with emergency keywords",
			Conditions:  Conditions{EmergencyKeywords: true},
			Action:      model.Block,
			Priority:    30,
			Enabled:     true,
		},
		{
			ID:          "FALL-001",
			Name:        "Low Confidence Fallback",
			Description: "Monitor content with low confidence",
			Conditions:  Conditions{ConfidenceMax: confPtr(0.5)},
			Action:      model.Monitor,
			Priority:    1,
			Enabled:     true,
		},
		{
			ID:          "UNK-001",
			Name:        "Unknown Content",
			Description: "Monitor unknown content",
			Conditions:  Conditions{Category: model.CategoryUnknown},
			Action:      model.Monitor,
			Priority:    2,
			Enabled:     true,
		},
	}
}
