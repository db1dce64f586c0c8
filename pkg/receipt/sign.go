package receipt

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/codebatai/pf-verify/internal/domain"
	"github.com/codebatai/pf-verify/internal/infra/crypto"
)

// Sign computes a signature over the canonical form and appends it to the
// receipt. Signatures over the same receipt by different keys stack.
func Sign(r *domain.Receipt, keyID string, alg domain.KeyAlgorithm, signer gocrypto.Signer) error {
	if keyID == "" {
		return fmt.Errorf("key id is required")
	}
	canonical, err := crypto.EncodeReceipt(*r)
	if err != nil {
		return err
	}
	var sig []byte
	switch alg {
	case domain.AlgEd25519:
		key, ok := signer.(ed25519.PrivateKey)
		if !ok {
			return fmt.Errorf("signer is %T, not ed25519.PrivateKey", signer)
		}
		sig = ed25519.Sign(key, canonical)
	case domain.AlgECDSAP256:
		key, ok := signer.(*ecdsa.PrivateKey)
		if !ok {
			return fmt.Errorf("signer is %T, not *ecdsa.PrivateKey", signer)
		}
		digest := sha256.Sum256(canonical)
		sig, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", alg)
	}
	r.Signatures = append(r.Signatures, domain.Signature{
		KeyID:     keyID,
		Algorithm: alg,
		Value:     sig,
	})
	return nil
}

// Digest is the hex SHA-256 of the canonical receipt bytes, the identity
// verifiers and caches key on.
func Digest(r domain.Receipt) (string, error) {
	return crypto.ReceiptDigest(r)
}
