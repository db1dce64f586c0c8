// Package policy implements the native rule evaluator: an ordered list of
// declarative rules over signature-verified receipt content, deny-overrides,
// default-deny.
package policy

import (
	"context"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/codebatai/pf-verify/internal/domain"
)

// EngineVersion is the evaluator version a policy's engine constraint is
// checked against.
const EngineVersion = "1.0.0"

const defaultDenyReason = "no matching allow rule"

// Engine evaluates one loaded policy. It is immutable after construction and
// safe for concurrent use; evaluation is pure. CEL leaves are compiled once
// at load into programs keyed by their expression source.
type Engine struct {
	doc      domain.Policy
	programs map[string]cel.Program
}

func (e *Engine) PolicyHash() string { return e.doc.Hash }

func (e *Engine) RuleCount() int { return len(e.doc.Rules) }

// Evaluate scans rules in declared order. The first matching deny
// short-circuits; otherwise the first matching allow wins; otherwise the
// decision is the default deny. Predicate misses are false, never errors.
func (e *Engine) Evaluate(_ context.Context, input domain.PolicyInput) (domain.PolicyDecision, error) {
	var allow *domain.Rule
	for i := range e.doc.Rules {
		rule := &e.doc.Rules[i]
		if rule.When != nil && !evalPredicate(rule.When, e.programs, input) {
			continue
		}
		if rule.Effect == domain.EffectDeny {
			return domain.PolicyDecision{
				Outcome:       domain.OutcomePolicyDenied,
				MatchedRuleID: rule.ID,
				Reasons:       []string{ruleReason(*rule, input)},
				PolicyHash:    e.doc.Hash,
			}, nil
		}
		if allow == nil {
			allow = rule
		}
	}
	if allow != nil {
		return domain.PolicyDecision{
			Outcome:       domain.OutcomeValid,
			MatchedRuleID: allow.ID,
			Reasons:       []string{ruleReason(*allow, input)},
			PolicyHash:    e.doc.Hash,
		}, nil
	}
	return domain.PolicyDecision{
		Outcome:    domain.OutcomePolicyDenied,
		Reasons:    []string{defaultDenyReason},
		PolicyHash: e.doc.Hash,
	}, nil
}

func ruleReason(rule domain.Rule, input domain.PolicyInput) string {
	if rule.Reason == "" {
		if rule.Effect == domain.EffectDeny {
			return "denied by rule " + rule.ID
		}
		return "allowed by rule " + rule.ID
	}
	return expandReason(rule.Reason, input)
}

// expandReason substitutes ${subject}, ${id} and ${claims.<path>} placeholders
// from the receipt under evaluation. Unresolvable placeholders are left as-is
// so a typo in a template stays visible in the verdict.
func expandReason(template string, input domain.PolicyInput) string {
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		name := rest[start+2 : start+end]
		if v, ok := resolvePlaceholder(name, input); ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[start : start+end+1])
		}
		rest = rest[start+end+1:]
	}
}

func resolvePlaceholder(name string, input domain.PolicyInput) (string, bool) {
	value, ok := resolvePath(name, input)
	if !ok {
		return "", false
	}
	return formatClaim(value)
}
