package domain

import (
	"fmt"
	"sort"
	"time"
)

const KeySetSchema = "oep288/keys/v1"

type KeyAlgorithm string

const (
	AlgEd25519   KeyAlgorithm = "ED25519"
	AlgECDSAP256 KeyAlgorithm = "ECDSA_P256"
)

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRetired KeyStatus = "retired"
	KeyStatusRevoked KeyStatus = "revoked"
)

type KeyPurpose string

const (
	KeyPurposeReceipt KeyPurpose = "receipt"
	KeyPurposeLog     KeyPurpose = "log"
)

// TrustedKey is public verification material. Retired keys still verify
// previously issued receipts; revoked keys fail closed.
type TrustedKey struct {
	KeyID      string
	Algorithm  KeyAlgorithm
	PublicKey  []byte
	Status     KeyStatus
	Purpose    KeyPurpose
	ValidFrom  *time.Time
	ValidUntil *time.Time
}

// ValidAt reports whether now falls inside the key's validity window. Keys
// without bounds are always inside it.
func (k TrustedKey) ValidAt(now time.Time) bool {
	if k.ValidFrom != nil && now.Before(*k.ValidFrom) {
		return false
	}
	if k.ValidUntil != nil && now.After(*k.ValidUntil) {
		return false
	}
	return true
}

// KeySet is an immutable snapshot of trusted keys. Reloads replace the whole
// snapshot; nothing mutates one in place.
type KeySet struct {
	keys map[string]TrustedKey
}

func NewKeySet(keys []TrustedKey) (*KeySet, error) {
	m := make(map[string]TrustedKey, len(keys))
	for _, k := range keys {
		if k.KeyID == "" {
			return nil, fmt.Errorf("key without key_id")
		}
		if _, ok := m[k.KeyID]; ok {
			return nil, fmt.Errorf("duplicate key_id %q", k.KeyID)
		}
		if k.Purpose == "" {
			k.Purpose = KeyPurposeReceipt
		}
		if k.Status == "" {
			k.Status = KeyStatusActive
		}
		m[k.KeyID] = k
	}
	return &KeySet{keys: m}, nil
}

func (s *KeySet) Lookup(keyID string) (TrustedKey, bool) {
	if s == nil {
		return TrustedKey{}, false
	}
	k, ok := s.keys[keyID]
	return k, ok
}

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the snapshot contents ordered by key id.
func (s *KeySet) Keys() []TrustedKey {
	if s == nil {
		return nil
	}
	out := make([]TrustedKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KeyID < out[j].KeyID })
	return out
}
