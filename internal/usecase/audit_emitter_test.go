package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

// chainRepoStub assigns sequence numbers and chain hashes the way the real
// repository does, so emitter output forms a verifiable chain.
type chainRepoStub struct {
	events []domain.AuditEvent
}

func (r *chainRepoStub) Append(_ context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	event.Seq = int64(len(r.events) + 1)
	event.PrevEventHash = ZeroEventHash
	if len(r.events) > 0 {
		event.PrevEventHash = r.events[len(r.events)-1].EventHash
	}
	payloadHash, err := PayloadHash(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.PayloadHash = payloadHash
	eventHash, err := ComputeEventHash(event)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event.EventHash = eventHash
	r.events = append(r.events, event)
	return event, nil
}

func (r *chainRepoStub) List(_ context.Context) ([]domain.AuditEvent, error) {
	return append([]domain.AuditEvent(nil), r.events...), nil
}

func testClock() Clock {
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestAuditEmitterBuildsVerifiableChain(t *testing.T) {
	repo := &chainRepoStub{}
	emitter := NewAuditEmitter(repo, testClock())
	ctx := context.Background()

	verdict := domain.Verdict{Outcome: domain.OutcomeValid, MatchedRuleID: "r1", Reasons: []string{"allowed by rule r1"}, SignatureChecked: true}
	rec := VerdictRecord{ReceiptID: "rcpt-001", ReceiptDigest: "abc123", Subject: "alice", PolicyHash: "deadbeef"}
	if err := emitter.EmitReceiptVerified(ctx, verdict, rec); err != nil {
		t.Fatalf("emit receipt verified: %v", err)
	}
	if err := emitter.EmitKeyRegistered(ctx, "signer-1", domain.AlgEd25519, domain.AuditResultSuccess, ""); err != nil {
		t.Fatalf("emit key registered: %v", err)
	}
	if err := emitter.EmitKeyRevoked(ctx, "signer-1", domain.AuditResultSuccess, ""); err != nil {
		t.Fatalf("emit key revoked: %v", err)
	}
	if err := emitter.EmitSnapshotReloaded(ctx, "deadbeef", 2, domain.AuditResultSuccess, ""); err != nil {
		t.Fatalf("emit snapshot reloaded: %v", err)
	}

	if len(repo.events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(repo.events))
	}
	if repo.events[0].EventType != domain.AuditEventReceiptVerified || repo.events[0].TargetID != "rcpt-001" {
		t.Fatalf("first event = %+v", repo.events[0])
	}
	if repo.events[0].Result != domain.AuditResultSuccess {
		t.Fatal("passing verdict should audit as success")
	}
	if err := VerifyAuditChain(ctx, repo); err != nil {
		t.Fatalf("chain verify: %v", err)
	}
}

func TestAuditEmitterFailedVerdictCarriesErrorCode(t *testing.T) {
	repo := &chainRepoStub{}
	emitter := NewAuditEmitter(repo, testClock())

	verdict := domain.Verdict{Outcome: domain.OutcomeInvalidSignature, Reasons: []string{"signature by key k failed verification"}, SignatureChecked: true}
	if err := emitter.EmitReceiptVerified(context.Background(), verdict, VerdictRecord{ReceiptID: "rcpt-002"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	event := repo.events[0]
	if event.Result != domain.AuditResultFailure {
		t.Fatal("failed verdict should audit as failure")
	}
	if event.ErrorCode != string(domain.OutcomeInvalidSignature) {
		t.Fatalf("error code = %q", event.ErrorCode)
	}
}

func TestAuditEmitterRejectsIncompleteEvents(t *testing.T) {
	emitter := NewAuditEmitter(&chainRepoStub{}, testClock())
	if _, err := emitter.Emit(context.Background(), domain.AuditEvent{EventType: domain.AuditEventKeyRevoked}); err == nil {
		t.Fatal("event without actor/target/result should be rejected")
	}
	var nilEmitter *AuditEmitter
	if _, err := nilEmitter.Emit(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatal("nil emitter should error, not panic")
	}
}
