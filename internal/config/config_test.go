package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.PolicyEngine != "native" {
		t.Fatalf("policy engine = %q", cfg.PolicyEngine)
	}
	if cfg.SignatureThreshold != 1 {
		t.Fatalf("threshold = %d", cfg.SignatureThreshold)
	}
	if cfg.RequireTransparency {
		t.Fatal("transparency should default off")
	}
	if cfg.VerdictCacheTTL().Seconds() != 300 {
		t.Fatalf("cache ttl = %v", cfg.VerdictCacheTTL())
	}
}

func TestFromEnvFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pfverify.yml")
	payload := `
http_addr: ":9090"
policy_path: /etc/pfverify/policy.yml
signature_threshold: 2
require_transparency: true
`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PFVERIFY_CONFIG", path)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.PolicyPath != "/etc/pfverify/policy.yml" {
		t.Fatalf("file overlay ignored: %+v", cfg)
	}
	if cfg.SignatureThreshold != 2 || !cfg.RequireTransparency {
		t.Fatalf("file overlay ignored: %+v", cfg)
	}

	// Environment wins over the file.
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("PFVERIFY_THRESHOLD", "3")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTPAddr != ":7070" || cfg.SignatureThreshold != 3 {
		t.Fatalf("env should win: %+v", cfg)
	}
}

func TestFromEnvRejectsUnknownEngine(t *testing.T) {
	t.Setenv("POLICY_ENGINE", "prolog")
	if _, err := FromEnv(); err == nil {
		t.Fatal("unknown engine should be rejected")
	}
}
