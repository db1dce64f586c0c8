//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/usecase"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("DATABASE_DSN_TEST"))
	if dsn == "" {
		t.Skip("DATABASE_DSN_TEST not set")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resetDB(t, gdb)
	return gdb
}

func resetDB(t *testing.T, gdb *gorm.DB) {
	t.Helper()
	for _, table := range []string{"audit_events", "audit_seq", "verdict_records", "trusted_keys"} {
		if err := gdb.Exec("TRUNCATE TABLE " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func TestVerdictRepositoryRoundTrip(t *testing.T) {
	gdb := setupTestDB(t)
	repo := NewVerdictRepository(gdb)
	ctx := context.Background()

	rec := usecase.VerdictRecord{
		ReceiptID:        "rcpt-001",
		ReceiptDigest:    strings.Repeat("ab", 32),
		Subject:          "alice",
		Outcome:          domain.OutcomePolicyDenied,
		MatchedRuleID:    "r2",
		Reasons:          []string{"subject alice is blocked"},
		SignatureChecked: true,
		PolicyHash:       strings.Repeat("cd", 32),
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	var model VerdictRecordModel
	if err := gdb.Where("receipt_id = ?", "rcpt-001").Take(&model).Error; err != nil {
		t.Fatalf("load model: %v", err)
	}
	got, err := repo.GetByID(ctx, model.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != rec.Outcome || got.MatchedRuleID != "r2" || !got.SignatureChecked {
		t.Fatalf("got = %+v", got)
	}
	if len(got.Reasons) != 1 || got.Reasons[0] != rec.Reasons[0] {
		t.Fatalf("reasons = %v", got.Reasons)
	}

	if _, err := repo.GetByID(ctx, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing id err = %v", err)
	}
}

func TestKeyRepositoryUpsertAndRevoke(t *testing.T) {
	gdb := setupTestDB(t)
	repo := NewKeyRepository(gdb)
	ctx := context.Background()

	key := domain.TrustedKey{KeyID: "signer-1", Algorithm: domain.AlgEd25519, PublicKey: make([]byte, 32)}
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Second upsert with a new status wins.
	key.Status = domain.KeyStatusRetired
	if err := repo.Upsert(ctx, key); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	keys, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 1 || keys[0].Status != domain.KeyStatusRetired {
		t.Fatalf("keys = %+v", keys)
	}

	if err := repo.UpdateStatus(ctx, "signer-1", domain.KeyStatusRevoked); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "nope", domain.KeyStatusRevoked); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("revoke missing err = %v", err)
	}
}

func TestAuditEventRepositoryHashChain(t *testing.T) {
	gdb := setupTestDB(t)
	repo := NewAuditEventRepository(gdb)
	ctx := context.Background()

	first, err := repo.Append(ctx, domain.AuditEvent{
		EventType:  domain.AuditEventKeyRegistered,
		ActorType:  domain.AuditActorSystem,
		Payload:    map[string]any{"key_id": "signer-1"},
		TargetType: domain.AuditTargetKey,
		TargetID:   "signer-1",
		Result:     domain.AuditResultSuccess,
		CreatedAt:  time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.Seq != 1 || first.PrevEventHash != usecase.ZeroEventHash {
		t.Fatalf("first = %+v", first)
	}

	second, err := repo.Append(ctx, domain.AuditEvent{
		EventType:  domain.AuditEventKeyRevoked,
		ActorType:  domain.AuditActorAdminAPIKey,
		Payload:    map[string]any{"key_id": "signer-1"},
		TargetType: domain.AuditTargetKey,
		TargetID:   "signer-1",
		Result:     domain.AuditResultSuccess,
	})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.Seq != 2 || second.PrevEventHash != first.EventHash {
		t.Fatalf("second = %+v", second)
	}

	if err := usecase.VerifyAuditChain(ctx, repo); err != nil {
		t.Fatalf("chain verify: %v", err)
	}

	// Rewriting a stored payload breaks verification.
	if err := gdb.Exec("UPDATE audit_events SET payload_json = '{\"key_id\":\"evil\"}' WHERE seq = 1").Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := usecase.VerifyAuditChain(ctx, repo); err == nil {
		t.Fatal("tampered chain should fail verification")
	}
}
