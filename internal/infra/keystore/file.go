// Package keystore loads trusted-key snapshots from key-set documents and
// holds them for atomic replacement in the daemon.
package keystore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codebatai/pf-verify/internal/domain"
)

const keySetSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "keys"],
  "properties": {
    "schema": {"const": "oep288/keys/v1"},
    "keys": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["key_id", "algorithm", "public_key"],
        "properties": {
          "key_id": {"type": "string", "minLength": 1},
          "algorithm": {"enum": ["ED25519", "ECDSA_P256"]},
          "public_key": {"type": "string", "minLength": 1},
          "status": {"enum": ["active", "retired", "revoked"]},
          "purpose": {"enum": ["receipt", "log"]},
          "valid_from": {"type": "string"},
          "valid_until": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var keySetSchema = jsonschema.MustCompileString("oep288/keys/v1.schema.json", keySetSchemaJSON)

type keySetDoc struct {
	Schema string   `json:"schema"`
	Keys   []keyDoc `json:"keys"`
}

type keyDoc struct {
	KeyID      string `json:"key_id"`
	Algorithm  string `json:"algorithm"`
	PublicKey  string `json:"public_key"`
	Status     string `json:"status,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	ValidFrom  string `json:"valid_from,omitempty"`
	ValidUntil string `json:"valid_until,omitempty"`
}

// LoadFile reads a key-set document and builds an immutable snapshot.
func LoadFile(path string) (*domain.KeySet, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key set: %w", err)
	}
	return Load(payload)
}

func Load(payload []byte) (*domain.KeySet, error) {
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}
	if err := keySetSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid key set: %w", err)
	}
	var doc keySetDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode key set: %w", err)
	}

	keys := make([]domain.TrustedKey, 0, len(doc.Keys))
	for _, k := range doc.Keys {
		key, err := buildKey(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k.KeyID, err)
		}
		keys = append(keys, key)
	}
	return domain.NewKeySet(keys)
}

func buildKey(doc keyDoc) (domain.TrustedKey, error) {
	material, err := base64.StdEncoding.DecodeString(doc.PublicKey)
	if err != nil {
		return domain.TrustedKey{}, fmt.Errorf("invalid public_key: %w", err)
	}
	key := domain.TrustedKey{
		KeyID:     doc.KeyID,
		Algorithm: domain.KeyAlgorithm(doc.Algorithm),
		PublicKey: material,
		Status:    domain.KeyStatus(doc.Status),
		Purpose:   domain.KeyPurpose(doc.Purpose),
	}
	if doc.ValidFrom != "" {
		t, err := time.Parse(time.RFC3339, doc.ValidFrom)
		if err != nil {
			return domain.TrustedKey{}, fmt.Errorf("invalid valid_from: %w", err)
		}
		t = t.UTC()
		key.ValidFrom = &t
	}
	if doc.ValidUntil != "" {
		t, err := time.Parse(time.RFC3339, doc.ValidUntil)
		if err != nil {
			return domain.TrustedKey{}, fmt.Errorf("invalid valid_until: %w", err)
		}
		t = t.UTC()
		key.ValidUntil = &t
	}
	return key, nil
}

// Marshal renders a snapshot back to its wire form, used by the admin API
// after registration and by keygen.
func Marshal(set *domain.KeySet) ([]byte, error) {
	doc := keySetDoc{Schema: domain.KeySetSchema}
	for _, k := range set.Keys() {
		entry := keyDoc{
			KeyID:     k.KeyID,
			Algorithm: string(k.Algorithm),
			PublicKey: base64.StdEncoding.EncodeToString(k.PublicKey),
			Status:    string(k.Status),
			Purpose:   string(k.Purpose),
		}
		if k.ValidFrom != nil {
			entry.ValidFrom = k.ValidFrom.UTC().Format(time.RFC3339)
		}
		if k.ValidUntil != nil {
			entry.ValidUntil = k.ValidUntil.UTC().Format(time.RFC3339)
		}
		doc.Keys = append(doc.Keys, entry)
	}
	return json.MarshalIndent(doc, "", "  ")
}
