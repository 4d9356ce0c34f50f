package rules

import "time"

// Rule is a single prioritized CEL rule. When its expression evaluates to
// true the rule's Outcome applies.
type Rule struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Expression string    `json:"expression"`
	Outcome    string    `json:"outcome"`
	Priority   int       `json:"priority"` // lower value is evaluated first
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EvaluationResult contains the outcome of evaluating a rule
type EvaluationResult struct {
	RuleID   string        `json:"ruleId"`
	RuleName string        `json:"ruleName"`
	Outcome  string        `json:"outcome"`
	Matched  bool          `json:"matched"`
	Error    error         `json:"-"`
	Trace    map[int64]any `json:"trace,omitempty"` // sub-expression ID -> observed value
}
