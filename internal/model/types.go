package model

import "time"

// Action is the parental action resulting from a judgment.
type Action string

const (
	Allow    Action = "allow"
	Monitor  Action = "monitor"
	Restrict Action = "restrict"
	Block    Action = "block"
)

// ActionRank maps actions to a comparable integer for restrictiveness
// ordering: allow < monitor < restrict < block.
var ActionRank = map[Action]int{
	Allow:    0,
	Monitor:  1,
	Restrict: 2,
	Block:    3,
}

// MoreRestrictive reports whether a is strictly more restrictive than b.
func MoreRestrictive(a, b Action) bool {
	return ActionRank[a] > ActionRank[b]
}

// ValidAction reports whether the value is a known action.
func ValidAction(a Action) bool {
	_, ok := ActionRank[a]
	return ok
}

// Category classifies analyzed content.
type Category string

const (
	CategorySafe          Category = "safe"
	CategoryEducational   Category = "educational"
	CategoryEntertainment Category = "entertainment"
	CategorySocial        Category = "social"
	CategoryConcerning    Category = "concerning"
	CategoryInappropriate Category = "inappropriate"
	CategoryDangerous     Category = "dangerous"
	CategoryUnknown       Category = "unknown"
)

// AgeGroup gates which judgment rules apply.
type AgeGroup string

const (
	Elementary   AgeGroup = "elementary"
	MiddleSchool AgeGroup = "middle_school"
	HighSchool   AgeGroup = "high_school"
)

// Strictness is the policy dial controlling rule applicability.
type Strictness string

const (
	Lenient  Strictness = "lenient"
	Moderate Strictness = "moderate"
	Strict   Strictness = "strict"
)

// AnalysisResult is the content-analysis tuple produced by the analysis
// collaborator. Immutable once produced; Context fields pass through
// judgment unchanged.
type AnalysisResult struct {
	Category       Category       `json:"category"`
	Confidence     float64        `json:"confidence"`
	SafetyConcerns []string       `json:"safety_concerns"`
	InputText      string         `json:"input_text"`
	Application    string         `json:"application,omitempty"`
	URL            string         `json:"url,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// UnknownResult is the safe substitute when the analysis collaborator
// fails: judgment still runs, it never gets skipped.
func UnknownResult(inputText string) AnalysisResult {
	return AnalysisResult{
		Category:       CategoryUnknown,
		Confidence:     0.0,
		SafetyConcerns: []string{},
		InputText:      inputText,
	}
}

// JudgmentResult is the outcome of evaluating one analysis result.
// AppliedRuleIDs is ordered with the primary rule first.
type JudgmentResult struct {
	Timestamp      time.Time `json:"timestamp"`
	Action         Action    `json:"action"`
	Confidence     float64   `json:"confidence"`
	Reasoning      string    `json:"reasoning"`
	AppliedRuleIDs []string  `json:"applied_rule_ids"`
	EmergencyFlag  bool      `json:"emergency_flag"`
}
