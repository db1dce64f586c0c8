package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

// AuditEmitter builds audit events and hands them to the repository, which
// assigns the sequence number and chain hashes under its own lock.
type AuditEmitter struct {
	Repo  AuditEventRepository
	Clock Clock
}

func NewAuditEmitter(repo AuditEventRepository, clock Clock) *AuditEmitter {
	return &AuditEmitter{Repo: repo, Clock: clock}
}

func (e *AuditEmitter) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

func (e *AuditEmitter) Emit(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if e == nil || e.Repo == nil {
		return domain.AuditEvent{}, errors.New("audit repository required")
	}
	if event.EventType == "" || event.TargetType == "" || event.Result == "" || event.ActorType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing required fields")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	} else {
		event.CreatedAt = event.CreatedAt.UTC()
	}
	return e.Repo.Append(ctx, event)
}

func (e *AuditEmitter) EmitReceiptVerified(ctx context.Context, verdict domain.Verdict, rec VerdictRecord) error {
	result := domain.AuditResultSuccess
	errorCode := ""
	if !verdict.Passed() {
		result = domain.AuditResultFailure
		errorCode = string(verdict.Outcome)
	}
	payload := map[string]any{
		"receipt_id":     rec.ReceiptID,
		"receipt_digest": rec.ReceiptDigest,
		"subject":        rec.Subject,
		"outcome":        string(verdict.Outcome),
		"policy_hash":    rec.PolicyHash,
	}
	if verdict.MatchedRuleID != "" {
		payload["matched_rule_id"] = verdict.MatchedRuleID
	}
	_, err := e.Emit(ctx, domain.AuditEvent{
		EventType:  domain.AuditEventReceiptVerified,
		ActorType:  domain.AuditActorService,
		Payload:    payload,
		TargetType: domain.AuditTargetReceipt,
		TargetID:   rec.ReceiptID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitKeyRegistered(ctx context.Context, keyID string, algorithm domain.KeyAlgorithm, result domain.AuditResult, errorCode string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventKeyRegistered,
		ActorType: domain.AuditActorAdminAPIKey,
		Payload: map[string]any{
			"key_id":    keyID,
			"algorithm": string(algorithm),
		},
		TargetType: domain.AuditTargetKey,
		TargetID:   keyID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitKeyRevoked(ctx context.Context, keyID string, result domain.AuditResult, errorCode string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventKeyRevoked,
		ActorType: domain.AuditActorAdminAPIKey,
		Payload: map[string]any{
			"key_id": keyID,
		},
		TargetType: domain.AuditTargetKey,
		TargetID:   keyID,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}

func (e *AuditEmitter) EmitSnapshotReloaded(ctx context.Context, policyHash string, keyCount int, result domain.AuditResult, errorCode string) error {
	_, err := e.Emit(ctx, domain.AuditEvent{
		EventType: domain.AuditEventSnapshotReloaded,
		ActorType: domain.AuditActorAdminAPIKey,
		Payload: map[string]any{
			"policy_hash": policyHash,
			"key_count":   keyCount,
		},
		TargetType: domain.AuditTargetSnapshot,
		TargetID:   policyHash,
		Result:     result,
		ErrorCode:  errorCode,
	})
	return err
}
