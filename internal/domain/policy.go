package domain

import "time"

const PolicySchema = "oep288/policy/v1"

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Predicate is a boolean expression tree over receipt fields. Exactly one
// branch is set per node; the loader rejects anything else. Leaf comparisons
// never error: an absent path or a type mismatch makes the leaf false.
type Predicate struct {
	Equals *EqualsPredicate `json:"equals,omitempty" yaml:"equals,omitempty"`
	In     *InPredicate     `json:"in,omitempty" yaml:"in,omitempty"`
	Range  *RangePredicate  `json:"range,omitempty" yaml:"range,omitempty"`
	Exists *ExistsPredicate `json:"exists,omitempty" yaml:"exists,omitempty"`
	All    []Predicate      `json:"all,omitempty" yaml:"all,omitempty"`
	Any    []Predicate      `json:"any,omitempty" yaml:"any,omitempty"`
	Not    *Predicate       `json:"not,omitempty" yaml:"not,omitempty"`
	Expr   string           `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// EqualsPredicate compares the value at Path against a literal. Literals are
// strings or numbers; a string literal also matches a timestamp claim when it
// parses as RFC 3339 and names the same instant.
type EqualsPredicate struct {
	Path  string `json:"path" yaml:"path"`
	Value any    `json:"value" yaml:"value"`
}

type InPredicate struct {
	Path   string `json:"path" yaml:"path"`
	Values []any  `json:"values" yaml:"values"`
}

// RangePredicate is inclusive on both bounds. At least one bound is required.
// Bounds are numbers, or RFC 3339 strings when the addressed claim is a
// timestamp.
type RangePredicate struct {
	Path string `json:"path" yaml:"path"`
	Min  any    `json:"min,omitempty" yaml:"min,omitempty"`
	Max  any    `json:"max,omitempty" yaml:"max,omitempty"`
}

type ExistsPredicate struct {
	Path string `json:"path" yaml:"path"`
}

// Rule pairs a predicate with an effect. Reason is a template; ${subject} and
// ${claims.<path>} placeholders are expanded from the receipt under
// evaluation.
type Rule struct {
	ID     string     `json:"id" yaml:"id"`
	Effect Effect     `json:"effect" yaml:"effect"`
	Reason string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	When   *Predicate `json:"when,omitempty" yaml:"when,omitempty"`
}

// Policy is an ordered rule list. Evaluation order is declaration order; the
// first matching deny wins, then the first matching allow, then default-deny.
type Policy struct {
	Schema        string `json:"schema" yaml:"schema"`
	Engine        string `json:"engine,omitempty" yaml:"engine,omitempty"`
	DefaultEffect Effect `json:"default_effect,omitempty" yaml:"default_effect,omitempty"`
	Rules         []Rule `json:"rules" yaml:"rules"`

	// Hash is the SHA-256 of the canonical document, set by the loader.
	Hash string `json:"-" yaml:"-"`
}

// PolicyInput is the signature-verified slice of a receipt handed to an
// evaluator. Policy never sees fields outside the signed content.
type PolicyInput struct {
	ReceiptID string
	IssuedAt  time.Time
	Subject   string
	Claims    ClaimMap
}

type PolicyDecision struct {
	Outcome       Outcome
	MatchedRuleID string
	Reasons       []string
	PolicyHash    string
}
