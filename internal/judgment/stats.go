package judgment

import "github.com/yshk-mrt/parental-control-agent-sub000/internal/model"

// Stats counts judgment outcomes for reporting. Not safety-critical.
type Stats struct {
	TotalJudgments  int                                     `json:"total_judgments"`
	ActionCounts    map[model.Action]int                    `json:"action_counts"`
	CategoryActions map[model.Category]map[model.Action]int `json:"category_actions"`
	EmergencyFlags  int                                     `json:"emergency_flags"`
	RuleUsage       map[string]int                          `json:"rule_usage"`
}

func newStats() Stats {
	return Stats{
		ActionCounts:    make(map[model.Action]int),
		CategoryActions: make(map[model.Category]map[model.Action]int),
		RuleUsage:       make(map[string]int),
	}
}

func (s *Stats) observe(r model.JudgmentResult, category model.Category) {
	s.TotalJudgments++
	s.ActionCounts[r.Action]++
	if r.EmergencyFlag {
		s.EmergencyFlags++
	}
	if category == "" {
		category = model.CategoryUnknown
	}
	if s.CategoryActions[category] == nil {
		s.CategoryActions[category] = make(map[model.Action]int)
	}
	s.CategoryActions[category][r.Action]++
	for _, id := range r.AppliedRuleIDs {
		s.RuleUsage[id]++
	}
}

func (s Stats) clone() Stats {
	out := newStats()
	out.TotalJudgments = s.TotalJudgments
	out.EmergencyFlags = s.EmergencyFlags
	for k, v := range s.ActionCounts {
		out.ActionCounts[k] = v
	}
	for cat, actions := range s.CategoryActions {
		m := make(map[model.Action]int, len(actions))
		for k, v := range actions {
			m[k] = v
		}
		out.CategoryActions[cat] = m
	}
	for k, v := range s.RuleUsage {
		out.RuleUsage[k] = v
	}
	return out
}
