package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

// Verifier checks receipt signatures against an immutable trusted-key
// snapshot. The clock is injectable so validity windows are testable.
type Verifier struct {
	now func() time.Time
}

func NewVerifier() *Verifier {
	return &Verifier{now: time.Now}
}

func NewVerifierAt(now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{now: now}
}

// Verify checks one signature over the canonical bytes using the trusted key
// it names. Trust failures (unknown, expired, revoked key, bad key material)
// are errors; a well-formed but cryptographically wrong signature is
// (false, nil). An empty key set is caller misuse and always an error.
func (v *Verifier) Verify(canonical []byte, sig domain.Signature, keys *domain.KeySet) (bool, error) {
	if keys.Len() == 0 {
		return false, domain.ErrEmptyKeySet
	}
	key, ok := keys.Lookup(sig.KeyID)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyUnknown, sig.KeyID)
	}
	if key.Status == domain.KeyStatusRevoked {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyRevoked, sig.KeyID)
	}
	if !key.ValidAt(v.now()) {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyExpired, sig.KeyID)
	}
	if sig.Algorithm != "" && sig.Algorithm != key.Algorithm {
		return false, fmt.Errorf("signature algorithm %s does not match key %s (%s)", sig.Algorithm, key.KeyID, key.Algorithm)
	}
	return verifyWithKey(key, canonical, sig.Value)
}

// VerifySTH checks the signed tree head of a transparency proof against the
// log key it names. The signed payload is the canonical JSON of
// {log_id, root_hash, tree_size}.
func (v *Verifier) VerifySTH(proof domain.TransparencyProof, keys *domain.KeySet) (bool, error) {
	if keys.Len() == 0 {
		return false, domain.ErrEmptyKeySet
	}
	key, ok := keys.Lookup(proof.LogKeyID)
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyUnknown, proof.LogKeyID)
	}
	if key.Purpose != domain.KeyPurposeLog {
		return false, fmt.Errorf("%w: key %s is not a log key", domain.ErrSTHInvalid, key.KeyID)
	}
	if key.Status == domain.KeyStatusRevoked {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyRevoked, key.KeyID)
	}
	if !key.ValidAt(v.now()) {
		return false, fmt.Errorf("%w: %s", domain.ErrKeyExpired, key.KeyID)
	}
	canonical, err := canonicalSTH(proof)
	if err != nil {
		return false, err
	}
	return verifyWithKey(key, canonical, proof.STHSignature)
}

func canonicalSTH(proof domain.TransparencyProof) ([]byte, error) {
	return CanonicalJSON(sthPayload{
		LogID:    proof.LogID,
		RootHash: hex.EncodeToString(proof.RootHash),
		TreeSize: proof.TreeSize,
	})
}

type sthPayload struct {
	LogID    string `json:"log_id"`
	RootHash string `json:"root_hash"`
	TreeSize int64  `json:"tree_size"`
}

func verifyWithKey(key domain.TrustedKey, msg, sig []byte) (bool, error) {
	if len(sig) == 0 {
		return false, fmt.Errorf("empty signature for key %s", key.KeyID)
	}
	switch key.Algorithm {
	case domain.AlgEd25519:
		return verifyEd25519(key.PublicKey, msg, sig)
	case domain.AlgECDSAP256:
		return verifyECDSAP256(key.PublicKey, msg, sig)
	default:
		return false, fmt.Errorf("unsupported key algorithm %q", key.Algorithm)
	}
}

func verifyEd25519(pub, msg, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid ed25519 public key length: %d", len(pub))
	}
	// ed25519.Verify handles wrong-length signatures by returning false,
	// which is the expected-failure path, not an error.
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

func verifyECDSAP256(pub, msg, sig []byte) (bool, error) {
	parsed, err := x509.ParsePKIXPublicKey(pub)
	if err != nil {
		return false, fmt.Errorf("invalid ecdsa public key: %w", err)
	}
	ecPub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("public key is %T, not *ecdsa.PublicKey", parsed)
	}
	if ecPub.Curve != elliptic.P256() {
		return false, fmt.Errorf("unsupported ecdsa curve %q", ecPub.Curve.Params().Name)
	}
	digest := sha256.Sum256(msg)
	return ecdsa.VerifyASN1(ecPub, digest[:], sig), nil
}
