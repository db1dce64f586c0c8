package policyrego

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

const testBundleRego = `package pfverify.policy

default allow = false

allow {
	input.claims.role == "admin"
}

deny[entry] {
	input.subject == "mallory"
	entry := {"code": "SUBJECT_BLOCKED", "message": "subject is blocked"}
}

result := {"allow": allow, "deny": [e | e := deny[_]], "matched_rule_id": "bundle"}
`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(testBundleRego), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	engine, err := NewEngineFromBundlePath(context.Background(), dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func baseInput() domain.PolicyInput {
	return domain.PolicyInput{
		ReceiptID: "r-1",
		IssuedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Subject:   "alice",
		Claims: domain.ClaimMap{
			"role": domain.StringValue("admin"),
		},
	}
}

func TestEngineAllow(t *testing.T) {
	engine := newEngine(t)
	first, err := engine.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if first.Outcome != domain.OutcomeValid {
		t.Fatalf("expected VALID, got %s with %v", first.Outcome, first.Reasons)
	}
	if first.PolicyHash == "" {
		t.Fatal("expected bundle hash to be set")
	}

	second, err := engine.Evaluate(context.Background(), baseInput())
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected deterministic evaluation")
	}
}

func TestEngineDenyCodes(t *testing.T) {
	engine := newEngine(t)
	input := baseInput()
	input.Subject = "mallory"
	input.Claims["role"] = domain.StringValue("guest")

	decision, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != domain.OutcomePolicyDenied {
		t.Fatalf("expected POLICY_DENIED, got %s", decision.Outcome)
	}
	if len(decision.Reasons) != 1 || decision.Reasons[0] != "SUBJECT_BLOCKED: subject is blocked" {
		t.Fatalf("unexpected reasons %v", decision.Reasons)
	}
}

func TestEngineDefaultDeny(t *testing.T) {
	engine := newEngine(t)
	input := baseInput()
	input.Claims["role"] = domain.StringValue("guest")

	decision, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Outcome != domain.OutcomePolicyDenied {
		t.Fatalf("expected POLICY_DENIED, got %s", decision.Outcome)
	}
	if len(decision.Reasons) != 1 || decision.Reasons[0] != "no matching allow rule" {
		t.Fatalf("unexpected reasons %v", decision.Reasons)
	}
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, `http.send({"method": "get", "url": "https://example.com"})`)
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsEnvBuiltin(t *testing.T) {
	rejectBuiltin(t, "opa.runtime()")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package pfverify.policy
result := {"allow": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	if _, err := NewEngineFromBundlePath(context.Background(), dir); err == nil {
		t.Fatal("expected builtin to be rejected")
	}
}

func TestBundleHashTracksNormativeFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(testBundleRego), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	first, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Non-normative files do not change the hash.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}
	second, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatal("readme changed the bundle hash")
	}

	// Editing the rego does.
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(testBundleRego+"\n# v2\n"), 0o644); err != nil {
		t.Fatalf("rewrite rego: %v", err)
	}
	third, err := ComputeBundleHashFromPath(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == third {
		t.Fatal("rego edit did not change the bundle hash")
	}
}
