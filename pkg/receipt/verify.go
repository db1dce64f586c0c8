package receipt

import (
	"context"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/crypto"
	"github.com/codebatai/pf-verify/internal/infra/keystore"
	"github.com/codebatai/pf-verify/internal/infra/merkle"
	"github.com/codebatai/pf-verify/internal/infra/policy"
	"github.com/codebatai/pf-verify/internal/usecase"
)

// VerifyOptions tune one offline verification.
type VerifyOptions struct {
	// Threshold is the number of distinct keys that must verify; zero
	// means one.
	Threshold int
	// RequireTransparency fails receipts without an inclusion proof.
	RequireTransparency bool
}

// Verify runs the full offline pipeline against an already-loaded policy
// engine and key snapshot. Every expected failure is a Verdict.
func Verify(ctx context.Context, r domain.Receipt, eng *policy.Engine, keys *domain.KeySet, opts VerifyOptions) (domain.Verdict, error) {
	uc := usecase.VerifyReceipt{
		Encoder: crypto.Codec{},
		Crypto:  crypto.NewVerifier(),
		Merkle:  &merkle.Service{},
	}
	return uc.Execute(ctx, usecase.VerifyRequest{
		Receipt:             r,
		Keys:                keys,
		Policy:              eng,
		Threshold:           opts.Threshold,
		RequireTransparency: opts.RequireTransparency,
	})
}

// VerifyDocuments is the file-shaped entry point: raw receipt JSON, raw
// policy YAML and raw key-set JSON in, verdict out.
func VerifyDocuments(ctx context.Context, receiptJSON, policyDoc, keySetJSON []byte, opts VerifyOptions) (domain.Verdict, error) {
	eng, err := policy.Load(policyDoc)
	if err != nil {
		return domain.Verdict{}, err
	}
	keys, err := keystore.Load(keySetJSON)
	if err != nil {
		return domain.Verdict{}, err
	}
	r, err := Decode(receiptJSON)
	if err != nil {
		return domain.Verdict{
			Outcome: domain.OutcomeMalformedReceipt,
			Reasons: []string{err.Error()},
		}, nil
	}
	return Verify(ctx, r, eng, keys, opts)
}
