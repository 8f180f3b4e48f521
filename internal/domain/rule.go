package domain

// Operator is a comparison operator for runtime threshold rules.
type Operator string

// Supported runtime rule operators.
const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
)

// ValidOperator reports whether op is one of the supported operators.
func ValidOperator(op Operator) bool {
	switch op {
	case OpGTE, OpLTE, OpEQ, OpGT, OpLT:
		return true
	}
	return false
}

// RuntimeRule is a user-supplied predicate applied after the fixed rule set.
// The threshold form compares a single feature against a value. Alternatively
// a rule may carry a CEL expression over the whole feature vector; when
// Expression is set the threshold fields are ignored.
type RuntimeRule struct {
	Description string   `json:"description"`
	Feature     string   `json:"feature,omitempty"`
	Operator    Operator `json:"operator,omitempty"`
	Value       float64  `json:"value,omitempty"`
	Weight      float64  `json:"weight"`

	// Expression is an optional CEL expression evaluated against the
	// feature vector. Must return bool.
	Expression string `json:"expression,omitempty"`
}

// RuntimeRuleInput is the submission form of a runtime rule. Value and
// Weight are pointers so an explicit zero is distinguishable from an absent
// field: only absent fields receive defaults.
type RuntimeRuleInput struct {
	Description string   `json:"description"`
	Feature     string   `json:"feature,omitempty"`
	Operator    Operator `json:"operator,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Expression  string   `json:"expression,omitempty"`
}

// RuleHit records a single triggered rule contribution.
type RuleHit struct {
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}
