package usecase

import (
	"context"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

type Clock func() time.Time

// ReceiptEncoder produces the canonical byte form signatures are computed
// over.
type ReceiptEncoder interface {
	Encode(r domain.Receipt) ([]byte, error)
}

type SignatureVerifier interface {
	Verify(canonical []byte, sig domain.Signature, keys *domain.KeySet) (bool, error)
	VerifySTH(proof domain.TransparencyProof, keys *domain.KeySet) (bool, error)
}

type MerkleVerifier interface {
	VerifyInclusion(leafHash []byte, leafIndex, treeSize int64, path [][]byte, expectedRoot []byte) (bool, error)
}

// PolicyEvaluator is satisfied by both the native rule engine and the rego
// backend. Evaluate only ever sees signature-verified content.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error)
	PolicyHash() string
}

// VerdictRecord is the persisted form of one verification run.
type VerdictRecord struct {
	ID               string
	ReceiptID        string
	ReceiptDigest    string
	Subject          string
	Outcome          domain.Outcome
	MatchedRuleID    string
	Reasons          []string
	SignatureChecked bool
	PolicyHash       string
	CreatedAt        time.Time
}

type VerdictRepository interface {
	Save(ctx context.Context, rec VerdictRecord) error
	GetByID(ctx context.Context, id string) (*VerdictRecord, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	List(ctx context.Context) ([]domain.AuditEvent, error)
}

type KeyRepository interface {
	Upsert(ctx context.Context, key domain.TrustedKey) error
	UpdateStatus(ctx context.Context, keyID string, status domain.KeyStatus) error
	List(ctx context.Context) ([]domain.TrustedKey, error)
}

type VerdictCache interface {
	Get(ctx context.Context, key string) (*domain.Verdict, bool, error)
	Put(ctx context.Context, key string, v domain.Verdict, ttl time.Duration) error
}
