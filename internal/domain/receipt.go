package domain

import "time"

const ReceiptSchema = "oep288/receipt/v1"

// TimeKey is the reserved single-key object form a timestamp claim takes on
// the wire: {"$time": "<RFC 3339>"}. A mapping may not use it as a field name.
const TimeKey = "$time"

type ClaimKind int

const (
	KindInvalid ClaimKind = iota
	KindString
	KindNumber
	KindTime
	KindMap
)

// ClaimValue is a tagged variant. Exactly one of the value fields is
// meaningful, selected by Kind.
type ClaimValue struct {
	Kind ClaimKind
	Str  string
	Num  float64
	Time time.Time
	Map  ClaimMap
}

type ClaimMap map[string]ClaimValue

func StringValue(s string) ClaimValue { return ClaimValue{Kind: KindString, Str: s} }

func NumberValue(n float64) ClaimValue { return ClaimValue{Kind: KindNumber, Num: n} }

func TimeValue(t time.Time) ClaimValue { return ClaimValue{Kind: KindTime, Time: t.UTC()} }

func MapValue(m ClaimMap) ClaimValue { return ClaimValue{Kind: KindMap, Map: m} }

// Native converts the map into plain Go values (string, float64, time.Time,
// map[string]any) for engines that cannot consume the tagged form directly.
func (m ClaimMap) Native() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Native()
	}
	return out
}

func (v ClaimValue) Native() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindTime:
		return v.Time
	case KindMap:
		return v.Map.Native()
	default:
		return nil
	}
}

type Signature struct {
	KeyID     string
	Algorithm KeyAlgorithm
	Value     []byte
}

// TransparencyProof is the optional log-inclusion section of a receipt. Path
// nodes are sibling hashes from the leaf up. STHSignature, when present, is a
// signature over the signed tree head by the key named in LogKeyID.
type TransparencyProof struct {
	LogID        string
	TreeSize     int64
	LeafIndex    int64
	RootHash     []byte
	Path         [][]byte
	STHSignature []byte
	LogKeyID     string
}

// Receipt is a signed record asserting claims about a subject. It is created
// by an issuer and treated as read-only here; signature bytes are opaque until
// they reach the verifier.
type Receipt struct {
	Schema       string
	ID           string
	IssuedAt     time.Time
	Subject      string
	Claims       ClaimMap
	Signatures   []Signature
	Transparency *TransparencyProof
}
