package main

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/pkg/receipt"
)

const cliPolicy = `
schema: oep288/policy/v1
rules:
  - id: allow-admin
    effect: allow
    reason: role is admin
    when:
      equals: {path: claims.role, value: admin}
`

func writeFixtures(t *testing.T) (receiptPath, policyPath, keysPath string) {
	t.Helper()
	dir := t.TempDir()

	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{42}, ed25519.SeedSize))
	r, err := receipt.New("alice").
		ID("rcpt-cli").
		IssuedAt(time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)).
		Claim("role", "admin").
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := receipt.Sign(&r, "signer-1", domain.AlgEd25519, priv); err != nil {
		t.Fatalf("sign: %v", err)
	}
	payload, err := receipt.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	receiptPath = filepath.Join(dir, "receipt.json")
	if err := os.WriteFile(receiptPath, payload, 0o644); err != nil {
		t.Fatalf("write receipt: %v", err)
	}

	policyPath = filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(policyPath, []byte(cliPolicy), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	keys, err := domain.NewKeySet([]domain.TrustedKey{{
		KeyID:     "signer-1",
		Algorithm: domain.AlgEd25519,
		PublicKey: priv.Public().(ed25519.PublicKey),
	}})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	keySetJSON, err := keystore.Marshal(keys)
	if err != nil {
		t.Fatalf("marshal keys: %v", err)
	}
	keysPath = filepath.Join(dir, "keys.json")
	if err := os.WriteFile(keysPath, keySetJSON, 0o644); err != nil {
		t.Fatalf("write keys: %v", err)
	}
	return receiptPath, policyPath, keysPath
}

func TestVerifyCommandPasses(t *testing.T) {
	receiptPath, policyPath, keysPath := writeFixtures(t)
	outPath := filepath.Join(t.TempDir(), "report.md")

	code := run([]string{"pf-verify", "verify",
		"--receipt", receiptPath,
		"--policy", policyPath,
		"--keys", keysPath,
		"--out", outPath,
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	report, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "Verification Passed") {
		t.Fatalf("unexpected report: %s", report)
	}
}

func TestVerifyCommandFailsOnTamper(t *testing.T) {
	receiptPath, policyPath, keysPath := writeFixtures(t)

	payload, err := os.ReadFile(receiptPath)
	if err != nil {
		t.Fatalf("read receipt: %v", err)
	}
	tampered := bytes.Replace(payload, []byte(`"admin"`), []byte(`"root"`), 1)
	if err := os.WriteFile(receiptPath, tampered, 0o644); err != nil {
		t.Fatalf("write receipt: %v", err)
	}
	outPath := filepath.Join(t.TempDir(), "report.json")

	code := run([]string{"pf-verify", "verify",
		"--receipt", receiptPath,
		"--policy", policyPath,
		"--keys", keysPath,
		"--format", "json",
		"--out", outPath,
	})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var out struct {
		Passed bool     `json:"passed"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if out.Passed || len(out.Errors) == 0 {
		t.Fatalf("report = %+v", out)
	}
}

func TestVerifyCommandUsageErrors(t *testing.T) {
	if code := run([]string{"pf-verify"}); code != 2 {
		t.Fatalf("no args exit code = %d", code)
	}
	if code := run([]string{"pf-verify", "verify"}); code != 2 {
		t.Fatalf("missing flags exit code = %d", code)
	}
	if code := run([]string{"pf-verify", "frobnicate"}); code != 2 {
		t.Fatalf("unknown command exit code = %d", code)
	}
}

func TestSignCommandProducesVerifiableReceipt(t *testing.T) {
	_, policyPath, _ := writeFixtures(t)
	dir := t.TempDir()

	seed := bytes.Repeat([]byte{43}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)

	draft := map[string]any{
		"schema":  domain.ReceiptSchema,
		"id":      "rcpt-draft",
		"ts":      "2026-03-01T11:00:00Z",
		"subject": "alice",
		"claims":  map[string]any{"role": "admin"},
	}
	draftJSON, err := json.Marshal(draft)
	if err != nil {
		t.Fatalf("encode draft: %v", err)
	}
	draftPath := filepath.Join(dir, "draft.json")
	if err := os.WriteFile(draftPath, draftJSON, 0o644); err != nil {
		t.Fatalf("write draft: %v", err)
	}

	signedPath := filepath.Join(dir, "signed.json")
	code := run([]string{"pf-verify", "sign",
		"--receipt", draftPath,
		"--key-id", "signer-cli",
		"--key-hex", "2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b2b",
		"--out", signedPath,
	})
	if code != 0 {
		t.Fatalf("sign exit code = %d", code)
	}

	keys, err := domain.NewKeySet([]domain.TrustedKey{{
		KeyID:     "signer-cli",
		Algorithm: domain.AlgEd25519,
		PublicKey: priv.Public().(ed25519.PublicKey),
	}})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	keySetJSON, err := keystore.Marshal(keys)
	if err != nil {
		t.Fatalf("marshal keys: %v", err)
	}
	keysPath := filepath.Join(dir, "keys.json")
	if err := os.WriteFile(keysPath, keySetJSON, 0o644); err != nil {
		t.Fatalf("write keys: %v", err)
	}

	code = run([]string{"pf-verify", "verify",
		"--receipt", signedPath,
		"--policy", policyPath,
		"--keys", keysPath,
		"--out", filepath.Join(dir, "report.md"),
	})
	if code != 0 {
		t.Fatalf("verify exit code = %d", code)
	}
}

func TestPolicyCheckCommand(t *testing.T) {
	_, policyPath, _ := writeFixtures(t)
	if code := run([]string{"pf-verify", "policy", "check", "--policy", policyPath}); code != 0 {
		t.Fatalf("valid policy exit code = %d", code)
	}

	badPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(badPath, []byte("schema: wrong/schema\n"), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if code := run([]string{"pf-verify", "policy", "check", "--policy", badPath}); code != 1 {
		t.Fatalf("invalid policy exit code = %d", code)
	}
}
