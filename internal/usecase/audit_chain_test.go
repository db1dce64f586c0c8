package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/codebatai/pf-verify/internal/domain"
)

func seedChain(t *testing.T, n int) *chainRepoStub {
	t.Helper()
	repo := &chainRepoStub{}
	emitter := NewAuditEmitter(repo, testClock())
	for i := 0; i < n; i++ {
		if err := emitter.EmitKeyRegistered(context.Background(), "k", domain.AlgEd25519, domain.AuditResultSuccess, ""); err != nil {
			t.Fatalf("seed chain: %v", err)
		}
	}
	return repo
}

func TestVerifyAuditChainEmpty(t *testing.T) {
	if err := VerifyAuditChain(context.Background(), &chainRepoStub{}); err != nil {
		t.Fatalf("empty chain should verify: %v", err)
	}
}

func TestVerifyAuditChainDetectsTampering(t *testing.T) {
	ctx := context.Background()

	t.Run("payload rewrite", func(t *testing.T) {
		repo := seedChain(t, 3)
		repo.events[1].Payload = map[string]any{"key_id": "evil"}
		err := VerifyAuditChain(ctx, repo)
		if err == nil || !strings.Contains(err.Error(), "payload hash mismatch") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("reseq", func(t *testing.T) {
		repo := seedChain(t, 3)
		repo.events[1], repo.events[2] = repo.events[2], repo.events[1]
		if err := VerifyAuditChain(ctx, repo); err == nil {
			t.Fatal("reordered chain should fail")
		}
	})

	t.Run("dropped link", func(t *testing.T) {
		repo := seedChain(t, 3)
		repo.events = append(repo.events[:1], repo.events[2:]...)
		if err := VerifyAuditChain(ctx, repo); err == nil {
			t.Fatal("chain with a dropped link should fail")
		}
	})

	t.Run("event hash fork", func(t *testing.T) {
		repo := seedChain(t, 2)
		repo.events[1].EventHash = strings.Repeat("ab", 32)
		err := VerifyAuditChain(ctx, repo)
		if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("timestamp rewrite", func(t *testing.T) {
		repo := seedChain(t, 2)
		repo.events[1].CreatedAt = repo.events[1].CreatedAt.Add(1)
		err := VerifyAuditChain(ctx, repo)
		if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestPayloadHashIsOrderIndependent(t *testing.T) {
	a, err := PayloadHash(map[string]any{"b": 1.0, "a": "x"})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := PayloadHash(map[string]any{"a": "x", "b": 1.0})
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatal("canonical payload hash must not depend on key order")
	}
}
