package receipt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/codebatai/pf-verify/internal/domain"
)

// decodeKeyMaterial accepts hex or standard base64.
func decodeKeyMaterial(s string) ([]byte, error) {
	if raw, err := hex.DecodeString(s); err == nil {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return nil, errors.New("key material is neither hex nor base64")
}

// ParsePrivateKey turns encoded private-key material into a signer. Ed25519
// accepts a 32-byte seed or the full 64-byte private key; ECDSA-P256 accepts
// SEC 1 or PKCS #8 DER.
func ParsePrivateKey(alg domain.KeyAlgorithm, material string) (crypto.Signer, error) {
	raw, err := decodeKeyMaterial(material)
	if err != nil {
		return nil, err
	}
	switch alg {
	case domain.AlgEd25519:
		switch len(raw) {
		case ed25519.SeedSize:
			return ed25519.NewKeyFromSeed(raw), nil
		case ed25519.PrivateKeySize:
			return ed25519.PrivateKey(raw), nil
		default:
			return nil, fmt.Errorf("ed25519 private key must be %d or %d bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
		}
	case domain.AlgECDSAP256:
		if key, err := x509.ParseECPrivateKey(raw); err == nil {
			return key, nil
		}
		parsed, err := x509.ParsePKCS8PrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid ecdsa private key: %w", err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not *ecdsa.PrivateKey", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}

// PublicKeyBytes renders a signer's public half in the trusted-key wire
// form: raw 32 bytes for Ed25519, PKIX DER for ECDSA.
func PublicKeyBytes(signer crypto.Signer) ([]byte, error) {
	switch pub := signer.Public().(type) {
	case ed25519.PublicKey:
		return []byte(pub), nil
	case *ecdsa.PublicKey:
		return x509.MarshalPKIXPublicKey(pub)
	default:
		return nil, fmt.Errorf("unsupported public key type %T", pub)
	}
}
