package policy

import (
	"errors"
	"testing"

	"github.com/codebatai/pf-verify/internal/domain"
)

func TestLoadRejectsUnknownSchema(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v2
rules: []
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy, got %v", err)
	}
}

func TestLoadRejectsDuplicateRuleIDs(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
rules:
  - id: r1
    effect: allow
  - id: r1
    effect: deny
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy, got %v", err)
	}
}

func TestLoadRejectsMultiBranchPredicate(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
rules:
  - id: r1
    effect: allow
    when:
      equals: {path: subject, value: alice}
      exists: {path: claims.role}
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy, got %v", err)
	}
}

func TestLoadRejectsUnboundedRange(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
rules:
  - id: r1
    effect: allow
    when:
      range: {path: claims.score}
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy, got %v", err)
	}
}

func TestLoadRejectsAllowDefaultEffect(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
default_effect: allow
rules: []
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy, got %v", err)
	}
}

func TestLoadEngineConstraint(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
engine: ">= 2.0.0"
rules: []
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy for unsatisfiable constraint, got %v", err)
	}

	engine, err := Load([]byte(`
schema: oep288/policy/v1
engine: ">= 1.0.0, < 2.0.0"
rules: []
`))
	if err != nil {
		t.Fatalf("load with satisfiable constraint: %v", err)
	}
	if engine.RuleCount() != 0 {
		t.Fatalf("expected zero rules, got %d", engine.RuleCount())
	}
}

func TestLoadRejectsBadCEL(t *testing.T) {
	_, err := Load([]byte(`
schema: oep288/policy/v1
rules:
  - id: r1
    effect: allow
    when:
      expr: "claims.role =="
`))
	if !errors.Is(err, domain.ErrMalformedPolicy) {
		t.Fatalf("expected ErrMalformedPolicy for bad CEL, got %v", err)
	}
}

func TestLoadHashStableAcrossFormatting(t *testing.T) {
	a, err := Load([]byte(`
schema: oep288/policy/v1
rules:
  - id: r1
    effect: allow
    when:
      equals: {path: claims.role, value: admin}
`))
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, err := Load([]byte(`{"schema":"oep288/policy/v1","rules":[{"when":{"equals":{"value":"admin","path":"claims.role"}},"effect":"allow","id":"r1"}]}`))
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if a.PolicyHash() == "" || a.PolicyHash() != b.PolicyHash() {
		t.Fatalf("expected identical hashes, got %q and %q", a.PolicyHash(), b.PolicyHash())
	}
}

func TestLoadJSONDocument(t *testing.T) {
	engine, err := Load([]byte(`{"schema":"oep288/policy/v1","rules":[{"id":"r1","effect":"deny"}]}`))
	if err != nil {
		t.Fatalf("load json policy: %v", err)
	}
	if engine.RuleCount() != 1 {
		t.Fatalf("expected one rule, got %d", engine.RuleCount())
	}
}
