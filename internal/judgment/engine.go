// Package judgment maps content-analysis results to parental actions.
// Evaluation is rule-based: enabled rules are filtered by age group,
// strictness level, and per-rule conditions, then the highest-priority
// match decides, with near-priority conflicts escalating to the more
// restrictive action. The engine fails toward visibility: any internal
// fault degrades to monitor, never to allow.
package judgment

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yshk-mrt/parental-control-agent-sub000/internal/model"
)

// Classifier is the analysis collaborator boundary. Implementations may
// fail; callers substitute model.UnknownResult rather than skip judgment.
type Classifier interface {
	Classify(inputText string) (model.AnalysisResult, error)
}

// Engine evaluates analysis results against its rule set. Judge is safe
// for concurrent use; rule mutation is serialized behind a writer lock.
type Engine struct {
	mu    sync.RWMutex
	cfg   *Config
	rules []Rule

	histMu  sync.Mutex
	history []model.JudgmentResult
	stats   Stats
}

// New creates an engine with the built-in rule set plus any custom rules
// carried by the config. A nil config uses defaults.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Engine{
		cfg:   cfg,
		rules: builtinRules(),
		stats: newStats(),
	}
	for _, r := range cfg.CustomRules {
		if err := e.AddRule(r); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Judge evaluates one analysis result. It never fails to the caller: an
// internal fault produces the monitor fallback with the emergency flag
// set, so faults surface as visibility rather than permission.
func (e *Engine) Judge(result model.AnalysisResult) (out model.JudgmentResult) {
	defer func() {
		if r := recover(); r != nil {
			out = model.JudgmentResult{
				Timestamp:      time.Now().UTC(),
				Action:         model.Monitor,
				Confidence:     0.0,
				Reasoning:      fmt.Sprintf("Judgment failed: %v. Defaulting to monitor for safety.", r),
				AppliedRuleIDs: []string{"FALLBACK"},
				EmergencyFlag:  true,
			}
			e.record(out, result.Category)
		}
	}()

	e.mu.RLock()
	cfg := e.cfg
	matched := e.applicableRules(result, cfg)
	emergency := e.isEmergency(result.InputText, result.SafetyConcerns)
	e.mu.RUnlock()

	action, reasoning, ruleIDs := applyRules(matched, result, cfg, emergency)

	out = model.JudgmentResult{
		Timestamp:      time.Now().UTC(),
		Action:         action,
		Confidence:     result.Confidence,
		Reasoning:      reasoning,
		AppliedRuleIDs: ruleIDs,
		EmergencyFlag:  emergency,
	}
	e.record(out, result.Category)
	return out
}

// isEmergency checks the input text against the configured keyword list
// and the safety concerns against the fixed high-risk set. Caller holds
// at least a read lock.
func (e *Engine) isEmergency(inputText string, concerns []string) bool {
	text := strings.ToLower(inputText)
	for _, kw := range e.cfg.EmergencyKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	for _, concern := range concerns {
		lc := strings.ToLower(concern)
		for _, risk := range highRiskConcerns {
			if strings.Contains(lc, risk) {
				return true
			}
		}
	}
	return false
}

// applicableRules filters and priority-sorts the rule set for one result.
// Caller holds at least a read lock. The sort is stable so identical
// inputs always yield identical rule order.
func (e *Engine) applicableRules(result model.AnalysisResult, cfg *Config) []Rule {
	emergency := e.isEmergency(result.InputText, result.SafetyConcerns)

	var matched []Rule
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if !r.appliesTo(cfg.AgeGroup, cfg.Strictness) {
			continue
		}
		if !r.matches(result, emergency) {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})
	return matched
}

// applyRules selects the primary rule and runs the escalation pass:
// competing rules within the escalation window that carry a strictly more
// restrictive action replace the selected action. Ties favor restriction,
// never permissiveness.
func applyRules(matched []Rule, result model.AnalysisResult, cfg *Config, emergency bool) (model.Action, string, []string) {
	if len(matched) == 0 {
		return model.Monitor,
			"No applicable rules found. Defaulting to monitor for safety.",
			[]string{"DEFAULT"}
	}

	primary := matched[0]
	action := primary.Action
	ruleIDs := []string{primary.ID}

	parts := []string{
		fmt.Sprintf("Applied rule: %s - %s", primary.Name, primary.Description),
		fmt.Sprintf("Content category: %s (confidence: %.2f)", result.Category, result.Confidence),
	}
	if len(result.SafetyConcerns) > 0 {
		parts = append(parts, "Safety concerns: "+strings.Join(result.SafetyConcerns, ", "))
	}
	parts = append(parts, fmt.Sprintf("Age group: %s, Strictness: %s", cfg.AgeGroup, cfg.Strictness))

	for _, r := range matched[1:] {
		if r.Priority < primary.Priority-cfg.EscalationWindow {
			continue
		}
		if model.MoreRestrictive(r.Action, action) {
			action = r.Action
			ruleIDs = append(ruleIDs, r.ID)
			parts = append(parts, "Escalated due to conflicting rule: "+r.Name)
		}
	}

	return action, strings.Join(parts, " | "), ruleIDs
}

// AddRule appends a custom rule after validation. Malformed rules are
// rejected whole and never enter the rule set partially. Rule IDs must be
// unique across built-ins and prior custom rules.
func (e *Engine) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.rules {
		if existing.ID == r.ID {
			return fmt.Errorf("rule %q already exists", r.ID)
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// DisableRule marks a rule disabled without removing it. Returns false if
// no rule carries the id.
func (e *Engine) DisableRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.rules {
		if e.rules[i].ID == id {
			e.rules[i].Enabled = false
			return true
		}
	}
	return false
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// record appends to the bounded history and updates counters.
func (e *Engine) record(r model.JudgmentResult, category model.Category) {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	e.history = append(e.history, r)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
	e.stats.observe(r, category)
}

// History returns up to limit most recent judgments, newest first.
func (e *Engine) History(limit int) []model.JudgmentResult {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	out := make([]model.JudgmentResult, 0, limit)
	for i := len(e.history) - 1; i >= len(e.history)-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Stats returns a snapshot of the judgment counters.
func (e *Engine) Stats() Stats {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return e.stats.clone()
}
