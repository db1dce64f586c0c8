package usecase

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/codebatai/pf-verify/internal/domain"
)

// VerifyRequest carries one receipt and everything needed to judge it. A
// zero Threshold means one valid signature suffices.
type VerifyRequest struct {
	Receipt             domain.Receipt
	Keys                *domain.KeySet
	Policy              PolicyEvaluator
	Threshold           int
	RequireTransparency bool
}

// VerifyReceipt runs the full pipeline: structure, then signatures, then the
// optional transparency proof, then policy. Signature verification always
// gates policy; a receipt that fails crypto never reaches the evaluator.
// Expected failures come back as verdicts; only encoder faults and caller
// misuse surface as errors.
type VerifyReceipt struct {
	Encoder ReceiptEncoder
	Crypto  SignatureVerifier
	Merkle  MerkleVerifier
}

func (uc *VerifyReceipt) Execute(ctx context.Context, req VerifyRequest) (domain.Verdict, error) {
	if uc.Encoder == nil || uc.Crypto == nil {
		return domain.Verdict{}, errors.New("encoder and signature verifier required")
	}
	if req.Policy == nil {
		return domain.Verdict{}, errors.New("policy evaluator required")
	}

	if reasons := validateStructure(req.Receipt); len(reasons) > 0 {
		return domain.Verdict{
			Outcome: domain.OutcomeMalformedReceipt,
			Reasons: reasons,
		}, nil
	}

	canonical, err := uc.Encoder.Encode(req.Receipt)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("canonical encode: %w", err)
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = 1
	}

	verified := map[string]bool{}
	checked := false
	var failures []string
	for _, sig := range req.Receipt.Signatures {
		if verified[sig.KeyID] {
			failures = append(failures, fmt.Sprintf("duplicate signature by key %s ignored", sig.KeyID))
			continue
		}
		ok, err := uc.Crypto.Verify(canonical, sig, req.Keys)
		switch {
		case errors.Is(err, domain.ErrEmptyKeySet):
			return domain.Verdict{}, err
		case err != nil:
			failures = append(failures, fmt.Sprintf("signature by key %s rejected: %v", sig.KeyID, err))
		case !ok:
			checked = true
			failures = append(failures, fmt.Sprintf("signature by key %s failed verification", sig.KeyID))
		default:
			checked = true
			verified[sig.KeyID] = true
		}
	}

	if len(verified) < threshold {
		reasons := failures
		if threshold > 1 {
			reasons = append(reasons, fmt.Sprintf("%d of %d required signatures verified", len(verified), threshold))
		}
		if len(reasons) == 0 {
			reasons = []string{"no verifiable signatures"}
		}
		return domain.Verdict{
			Outcome:          domain.OutcomeInvalidSignature,
			Reasons:          reasons,
			SignatureChecked: checked,
		}, nil
	}

	if reasons := uc.checkTransparency(req, canonical); len(reasons) > 0 {
		return domain.Verdict{
			Outcome:          domain.OutcomeInvalidSignature,
			Reasons:          reasons,
			SignatureChecked: true,
		}, nil
	}

	decision, err := req.Policy.Evaluate(ctx, domain.PolicyInput{
		ReceiptID: req.Receipt.ID,
		IssuedAt:  req.Receipt.IssuedAt,
		Subject:   req.Receipt.Subject,
		Claims:    req.Receipt.Claims,
	})
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("policy evaluation: %w", err)
	}
	return domain.Verdict{
		Outcome:          decision.Outcome,
		MatchedRuleID:    decision.MatchedRuleID,
		Reasons:          decision.Reasons,
		SignatureChecked: true,
	}, nil
}

func (uc *VerifyReceipt) checkTransparency(req VerifyRequest, canonical []byte) []string {
	proof := req.Receipt.Transparency
	if proof == nil {
		if req.RequireTransparency {
			return []string{"transparency proof required but absent"}
		}
		return nil
	}
	if uc.Merkle == nil {
		return []string{"transparency proof present but no inclusion verifier configured"}
	}

	var reasons []string
	if len(proof.STHSignature) > 0 {
		ok, err := uc.Crypto.VerifySTH(*proof, req.Keys)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("signed tree head rejected: %v", err))
		} else if !ok {
			reasons = append(reasons, "signed tree head signature failed verification")
		}
	}

	leaf := leafHash(canonical)
	ok, err := uc.Merkle.VerifyInclusion(leaf, proof.LeafIndex, proof.TreeSize, proof.Path, proof.RootHash)
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("inclusion proof rejected: %v", err))
	} else if !ok {
		reasons = append(reasons, fmt.Sprintf("inclusion proof for log %s does not reach the root", proof.LogID))
	}
	return reasons
}

// leafHash is the RFC 6962 leaf hash over the canonical receipt bytes.
func leafHash(canonical []byte) []byte {
	buf := make([]byte, 0, len(canonical)+1)
	buf = append(buf, 0x00)
	buf = append(buf, canonical...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

func validateStructure(r domain.Receipt) []string {
	var reasons []string
	if r.Schema != "" && r.Schema != domain.ReceiptSchema {
		reasons = append(reasons, fmt.Sprintf("unsupported schema %q", r.Schema))
	}
	if r.ID == "" {
		reasons = append(reasons, "receipt id is empty")
	}
	if r.Subject == "" {
		reasons = append(reasons, "subject is empty")
	}
	if r.IssuedAt.IsZero() {
		reasons = append(reasons, "issued-at timestamp is missing")
	}
	if len(r.Signatures) == 0 {
		reasons = append(reasons, "receipt carries no signatures")
	}
	for i, sig := range r.Signatures {
		if sig.KeyID == "" {
			reasons = append(reasons, fmt.Sprintf("signature %d has no key id", i))
		}
		if len(sig.Value) == 0 {
			reasons = append(reasons, fmt.Sprintf("signature %d is empty", i))
		}
	}
	reasons = append(reasons, validateClaims("claims", r.Claims)...)
	return reasons
}

func validateClaims(prefix string, m domain.ClaimMap) []string {
	var reasons []string
	for k, v := range m {
		path := prefix + "." + k
		if k == domain.TimeKey {
			reasons = append(reasons, fmt.Sprintf("%s: reserved key %q used as field name", prefix, domain.TimeKey))
			continue
		}
		switch v.Kind {
		case domain.KindString, domain.KindNumber, domain.KindTime:
		case domain.KindMap:
			reasons = append(reasons, validateClaims(path, v.Map)...)
		default:
			reasons = append(reasons, fmt.Sprintf("%s: unsupported claim kind", path))
		}
	}
	return reasons
}
