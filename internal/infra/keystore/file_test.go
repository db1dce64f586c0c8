package keystore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

func b64Key(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(pub)
}

func TestLoadKeySet(t *testing.T) {
	payload := fmt.Sprintf(`{
  "schema": "oep288/keys/v1",
  "keys": [
    {"key_id": "signer-1", "algorithm": "ED25519", "public_key": %q},
    {"key_id": "signer-2", "algorithm": "ED25519", "public_key": %q,
     "status": "retired", "purpose": "log",
     "valid_from": "2026-01-01T00:00:00Z", "valid_until": "2027-01-01T00:00:00Z"}
  ]
}`, b64Key(t), b64Key(t))

	set, err := Load([]byte(payload))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("len = %d, want 2", set.Len())
	}
	k1, ok := set.Lookup("signer-1")
	if !ok {
		t.Fatal("signer-1 missing")
	}
	if k1.Status != domain.KeyStatusActive || k1.Purpose != domain.KeyPurposeReceipt {
		t.Fatalf("signer-1 defaults = %s/%s", k1.Status, k1.Purpose)
	}
	k2, _ := set.Lookup("signer-2")
	if k2.Status != domain.KeyStatusRetired || k2.Purpose != domain.KeyPurposeLog {
		t.Fatalf("signer-2 = %s/%s", k2.Status, k2.Purpose)
	}
	if k2.ValidFrom == nil || !k2.ValidFrom.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("signer-2 valid_from = %v", k2.ValidFrom)
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	pk := b64Key(t)
	cases := map[string]string{
		"wrong schema":     fmt.Sprintf(`{"schema":"oep288/keys/v2","keys":[{"key_id":"a","algorithm":"ED25519","public_key":%q}]}`, pk),
		"missing key_id":   fmt.Sprintf(`{"schema":"oep288/keys/v1","keys":[{"algorithm":"ED25519","public_key":%q}]}`, pk),
		"bad algorithm":    fmt.Sprintf(`{"schema":"oep288/keys/v1","keys":[{"key_id":"a","algorithm":"RSA","public_key":%q}]}`, pk),
		"bad base64":       `{"schema":"oep288/keys/v1","keys":[{"key_id":"a","algorithm":"ED25519","public_key":"%%%"}]}`,
		"bad valid_until":  fmt.Sprintf(`{"schema":"oep288/keys/v1","keys":[{"key_id":"a","algorithm":"ED25519","public_key":%q,"valid_until":"yesterday"}]}`, pk),
		"duplicate key_id": fmt.Sprintf(`{"schema":"oep288/keys/v1","keys":[{"key_id":"a","algorithm":"ED25519","public_key":%q},{"key_id":"a","algorithm":"ED25519","public_key":%q}]}`, pk, pk),
	}
	for name, payload := range cases {
		if _, err := Load([]byte(payload)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	payload := fmt.Sprintf(`{"schema":"oep288/keys/v1","keys":[{"key_id":"k1","algorithm":"ED25519","public_key":%q,"valid_until":"2027-06-01T00:00:00Z"}]}`, b64Key(t))
	set, err := Load([]byte(payload))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	out, err := Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"valid_until": "2027-06-01T00:00:00Z"`) {
		t.Fatalf("marshal output missing validity:\n%s", out)
	}
	again, err := Load(out)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Len() != set.Len() {
		t.Fatalf("round trip len = %d, want %d", again.Len(), set.Len())
	}
}

func TestHolderSwapIsVisible(t *testing.T) {
	first, err := domain.NewKeySet([]domain.TrustedKey{{KeyID: "a", Algorithm: domain.AlgEd25519}})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}
	second, err := domain.NewKeySet([]domain.TrustedKey{{KeyID: "b", Algorithm: domain.AlgEd25519}})
	if err != nil {
		t.Fatalf("key set: %v", err)
	}

	h := NewHolder(first)
	if got := h.Get(); got != first {
		t.Fatal("holder does not return initial snapshot")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				set := h.Get()
				if set != first && set != second {
					t.Error("holder returned torn snapshot")
					return
				}
			}
		}()
	}
	if prev := h.Replace(second); prev != first {
		t.Fatal("replace did not return previous snapshot")
	}
	wg.Wait()
	if got := h.Get(); got != second {
		t.Fatal("holder does not return swapped snapshot")
	}
}
