package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/codebatai/pf-verify/internal/domain"
)

// receiptSchemaJSON validates the receipt envelope. Claims stay free-form
// here; their shape rules (reserved key, value kinds) are enforced by the
// claim decoder, and unknown top-level fields are tolerated.
const receiptSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["schema", "id", "ts", "subject", "claims", "signatures"],
  "properties": {
    "schema": {"const": "oep288/receipt/v1"},
    "id": {"type": "string", "minLength": 1},
    "ts": {"type": "string"},
    "subject": {"type": "string", "minLength": 1},
    "claims": {"type": "object"},
    "signatures": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["key_id", "signature"],
        "properties": {
          "key_id": {"type": "string", "minLength": 1},
          "algorithm": {"enum": ["ED25519", "ECDSA_P256"]},
          "signature": {"type": "string", "minLength": 1}
        }
      }
    },
    "transparency": {
      "type": "object",
      "required": ["log_id", "tree_size", "leaf_index", "root", "proof"],
      "properties": {
        "log_id": {"type": "string", "minLength": 1},
        "tree_size": {"type": "integer", "minimum": 1},
        "leaf_index": {"type": "integer", "minimum": 0},
        "root": {"type": "string", "minLength": 1},
        "proof": {"type": "array", "items": {"type": "string"}},
        "sth_signature": {"type": "string"},
        "log_key_id": {"type": "string"}
      }
    }
  }
}`

var receiptSchema = jsonschema.MustCompileString("oep288/receipt/v1.schema.json", receiptSchemaJSON)

// draftReceiptSchema is the same envelope with signatures optional, for
// receipts that are still being assembled by a signer.
var draftReceiptSchema = jsonschema.MustCompileString("oep288/receipt/v1.draft.schema.json", strings.NewReplacer(
	`"required": ["schema", "id", "ts", "subject", "claims", "signatures"]`,
	`"required": ["schema", "id", "ts", "subject", "claims"]`,
	`"minItems": 1,`, ``,
).Replace(receiptSchemaJSON))

type wireSignature struct {
	KeyID     string `json:"key_id"`
	Algorithm string `json:"algorithm,omitempty"`
	Signature string `json:"signature"`
}

type wireTransparency struct {
	LogID        string   `json:"log_id"`
	TreeSize     int64    `json:"tree_size"`
	LeafIndex    int64    `json:"leaf_index"`
	Root         string   `json:"root"`
	Proof        []string `json:"proof"`
	STHSignature string   `json:"sth_signature,omitempty"`
	LogKeyID     string   `json:"log_key_id,omitempty"`
}

type wireReceipt struct {
	Schema       string            `json:"schema"`
	ID           string            `json:"id"`
	TS           string            `json:"ts"`
	Subject      string            `json:"subject"`
	Claims       json.RawMessage   `json:"claims"`
	Signatures   []wireSignature   `json:"signatures"`
	Transparency *wireTransparency `json:"transparency,omitempty"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrMalformedReceipt, fmt.Sprintf(format, args...))
}

// Decode parses and structurally validates a wire receipt. Any defect is a
// single malformed-receipt error; signature bytes stay unchecked.
func Decode(payload []byte) (domain.Receipt, error) {
	return decodeWith(receiptSchema, payload)
}

// DecodeDraft accepts a receipt with zero signatures. Everything else is
// validated as strictly as Decode.
func DecodeDraft(payload []byte) (domain.Receipt, error) {
	return decodeWith(draftReceiptSchema, payload)
}

func decodeWith(schema *jsonschema.Schema, payload []byte) (domain.Receipt, error) {
	if err := rejectDuplicateKeys(payload); err != nil {
		return domain.Receipt{}, err
	}

	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return domain.Receipt{}, malformed("invalid json: %v", err)
	}
	if err := schema.Validate(generic); err != nil {
		return domain.Receipt{}, malformed("schema: %v", err)
	}

	var wire wireReceipt
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.Receipt{}, malformed("decode: %v", err)
	}

	issued, err := time.Parse(time.RFC3339, wire.TS)
	if err != nil {
		return domain.Receipt{}, malformed("ts: %v", err)
	}

	claims, err := decodeClaims(wire.Claims)
	if err != nil {
		return domain.Receipt{}, err
	}

	sigs := make([]domain.Signature, 0, len(wire.Signatures))
	for i, ws := range wire.Signatures {
		raw, err := base64.StdEncoding.DecodeString(ws.Signature)
		if err != nil {
			return domain.Receipt{}, malformed("signatures[%d]: invalid base64", i)
		}
		sigs = append(sigs, domain.Signature{
			KeyID:     ws.KeyID,
			Algorithm: domain.KeyAlgorithm(ws.Algorithm),
			Value:     raw,
		})
	}

	r := domain.Receipt{
		Schema:     wire.Schema,
		ID:         wire.ID,
		IssuedAt:   issued.UTC(),
		Subject:    wire.Subject,
		Claims:     claims,
		Signatures: sigs,
	}
	if wire.Transparency != nil {
		proof, err := decodeTransparency(*wire.Transparency)
		if err != nil {
			return domain.Receipt{}, err
		}
		r.Transparency = &proof
	}
	return r, nil
}

// Marshal renders the wire form. Claims are emitted with timestamps in the
// reserved single-key object shape.
func Marshal(r domain.Receipt) ([]byte, error) {
	claims, err := encodeClaims(r.Claims)
	if err != nil {
		return nil, err
	}
	wire := wireReceipt{
		Schema:  r.Schema,
		ID:      r.ID,
		TS:      r.IssuedAt.UTC().Format(time.RFC3339Nano),
		Subject: r.Subject,
		Claims:  claims,
	}
	if wire.Schema == "" {
		wire.Schema = domain.ReceiptSchema
	}
	for _, sig := range r.Signatures {
		wire.Signatures = append(wire.Signatures, wireSignature{
			KeyID:     sig.KeyID,
			Algorithm: string(sig.Algorithm),
			Signature: base64.StdEncoding.EncodeToString(sig.Value),
		})
	}
	if r.Transparency != nil {
		p := r.Transparency
		wt := wireTransparency{
			LogID:     p.LogID,
			TreeSize:  p.TreeSize,
			LeafIndex: p.LeafIndex,
			Root:      hex.EncodeToString(p.RootHash),
			Proof:     make([]string, 0, len(p.Path)),
			LogKeyID:  p.LogKeyID,
		}
		for _, node := range p.Path {
			wt.Proof = append(wt.Proof, hex.EncodeToString(node))
		}
		if len(p.STHSignature) > 0 {
			wt.STHSignature = base64.StdEncoding.EncodeToString(p.STHSignature)
		}
		wire.Transparency = &wt
	}
	return json.MarshalIndent(wire, "", "  ")
}

func decodeTransparency(wt wireTransparency) (domain.TransparencyProof, error) {
	root, err := hex.DecodeString(wt.Root)
	if err != nil {
		return domain.TransparencyProof{}, malformed("transparency.root: invalid hex")
	}
	proof := domain.TransparencyProof{
		LogID:     wt.LogID,
		TreeSize:  wt.TreeSize,
		LeafIndex: wt.LeafIndex,
		RootHash:  root,
		LogKeyID:  wt.LogKeyID,
	}
	for i, node := range wt.Proof {
		raw, err := hex.DecodeString(node)
		if err != nil {
			return domain.TransparencyProof{}, malformed("transparency.proof[%d]: invalid hex", i)
		}
		proof.Path = append(proof.Path, raw)
	}
	if wt.STHSignature != "" {
		raw, err := base64.StdEncoding.DecodeString(wt.STHSignature)
		if err != nil {
			return domain.TransparencyProof{}, malformed("transparency.sth_signature: invalid base64")
		}
		proof.STHSignature = raw
	}
	return proof, nil
}

func decodeClaims(raw json.RawMessage) (domain.ClaimMap, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, malformed("claims: %v", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return nil, malformed("claims must be an object")
	}
	return decodeClaimMap("claims", obj)
}

func decodeClaimMap(path string, obj map[string]any) (domain.ClaimMap, error) {
	if _, ok := obj[domain.TimeKey]; ok {
		if len(obj) == 1 {
			return nil, malformed("%s: timestamp object is not a valid mapping here", path)
		}
		return nil, malformed("%s: reserved key %q used as field name", path, domain.TimeKey)
	}
	out := make(domain.ClaimMap, len(obj))
	for k, v := range obj {
		cv, err := decodeClaimValue(path+"."+k, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

func decodeClaimValue(path string, value any) (domain.ClaimValue, error) {
	switch v := value.(type) {
	case string:
		return domain.StringValue(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return domain.ClaimValue{}, malformed("%s: number out of range", path)
		}
		return domain.NumberValue(f), nil
	case map[string]any:
		if ts, ok := v[domain.TimeKey]; ok {
			if len(v) != 1 {
				return domain.ClaimValue{}, malformed("%s: %q must be the only key of a timestamp object", path, domain.TimeKey)
			}
			s, ok := ts.(string)
			if !ok {
				return domain.ClaimValue{}, malformed("%s: timestamp must be a string", path)
			}
			parsed, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return domain.ClaimValue{}, malformed("%s: invalid timestamp %q", path, s)
			}
			return domain.TimeValue(parsed), nil
		}
		m := make(domain.ClaimMap, len(v))
		for k, nested := range v {
			cv, err := decodeClaimValue(path+"."+k, nested)
			if err != nil {
				return domain.ClaimValue{}, err
			}
			m[k] = cv
		}
		return domain.MapValue(m), nil
	default:
		return domain.ClaimValue{}, malformed("%s: unsupported value type", path)
	}
}

func encodeClaims(claims domain.ClaimMap) (json.RawMessage, error) {
	native, err := wireClaimMap(claims)
	if err != nil {
		return nil, err
	}
	return json.Marshal(native)
}

func wireClaimMap(claims domain.ClaimMap) (map[string]any, error) {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		wv, err := wireClaimValue(v)
		if err != nil {
			return nil, fmt.Errorf("claim %q: %w", k, err)
		}
		out[k] = wv
	}
	return out, nil
}

func wireClaimValue(v domain.ClaimValue) (any, error) {
	switch v.Kind {
	case domain.KindString:
		return v.Str, nil
	case domain.KindNumber:
		return v.Num, nil
	case domain.KindTime:
		return map[string]string{domain.TimeKey: v.Time.UTC().Format(time.RFC3339Nano)}, nil
	case domain.KindMap:
		return wireClaimMap(v.Map)
	default:
		return nil, domain.ErrUnsupportedClaimType
	}
}

// rejectDuplicateKeys walks the raw token stream; encoding/json silently
// keeps the last duplicate, which would let two claims share a key.
func rejectDuplicateKeys(payload []byte) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	type frame struct {
		object    bool
		keys      map[string]struct{}
		expectKey bool
	}
	var stack []*frame
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return malformed("invalid json: %v", err)
		}
		top := func() *frame {
			if len(stack) == 0 {
				return nil
			}
			return stack[len(stack)-1]
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				stack = append(stack, &frame{object: true, keys: map[string]struct{}{}, expectKey: true})
			case '[':
				stack = append(stack, &frame{})
			case '}', ']':
				stack = stack[:len(stack)-1]
				if f := top(); f != nil && f.object {
					f.expectKey = true
				}
			}
		case string:
			if f := top(); f != nil && f.object && f.expectKey {
				if _, dup := f.keys[t]; dup {
					return malformed("duplicate key %q", t)
				}
				f.keys[t] = struct{}{}
				f.expectKey = false
			} else if f != nil && f.object {
				f.expectKey = true
			}
		default:
			if f := top(); f != nil && f.object {
				f.expectKey = true
			}
		}
	}
}
