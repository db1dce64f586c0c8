// Package receipt is the issuer- and verifier-facing SDK: building,
// signing, encoding and offline-verifying OEP-288 receipts.
package receipt

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/codebatai/pf-verify/internal/domain"
)

// Builder assembles a receipt claim by claim. Zero-value fields are filled
// in at Build time: a random id and the current instant.
type Builder struct {
	receipt domain.Receipt
	err     error
}

func New(subject string) *Builder {
	b := &Builder{
		receipt: domain.Receipt{
			Schema:  domain.ReceiptSchema,
			Subject: subject,
			Claims:  domain.ClaimMap{},
		},
	}
	if subject == "" {
		b.err = errors.New("subject is required")
	}
	return b
}

func (b *Builder) ID(id string) *Builder {
	b.receipt.ID = id
	return b
}

func (b *Builder) IssuedAt(ts time.Time) *Builder {
	b.receipt.IssuedAt = ts.UTC()
	return b
}

// Claim adds one claim. Accepted values: string, any Go integer or float,
// time.Time, or map[string]any nesting the same kinds.
func (b *Builder) Claim(key string, value any) *Builder {
	if b.err != nil {
		return b
	}
	cv, err := toClaimValue(value)
	if err != nil {
		b.err = fmt.Errorf("claim %q: %w", key, err)
		return b
	}
	if key == domain.TimeKey {
		b.err = fmt.Errorf("claim key %q is reserved", domain.TimeKey)
		return b
	}
	if !utf8.ValidString(key) {
		b.err = fmt.Errorf("claim key %q is not valid UTF-8", key)
		return b
	}
	b.receipt.Claims[key] = cv
	return b
}

func (b *Builder) ClaimTime(key string, ts time.Time) *Builder {
	return b.Claim(key, ts)
}

func (b *Builder) Build() (domain.Receipt, error) {
	if b.err != nil {
		return domain.Receipt{}, b.err
	}
	r := b.receipt
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.IssuedAt.IsZero() {
		r.IssuedAt = time.Now().UTC()
	}
	return r, nil
}

func toClaimValue(value any) (domain.ClaimValue, error) {
	switch v := value.(type) {
	case string:
		// Invalid bytes would collapse to U+FFFD during canonical
		// encoding, letting distinct strings share one digest.
		if !utf8.ValidString(v) {
			return domain.ClaimValue{}, fmt.Errorf("%w: string is not valid UTF-8", domain.ErrUnsupportedClaimType)
		}
		return domain.StringValue(v), nil
	case float64:
		return domain.NumberValue(v), nil
	case float32:
		return domain.NumberValue(float64(v)), nil
	case int:
		return domain.NumberValue(float64(v)), nil
	case int32:
		return domain.NumberValue(float64(v)), nil
	case int64:
		return domain.NumberValue(float64(v)), nil
	case time.Time:
		return domain.TimeValue(v), nil
	case map[string]any:
		m := make(domain.ClaimMap, len(v))
		for k, raw := range v {
			if k == domain.TimeKey {
				return domain.ClaimValue{}, fmt.Errorf("key %q is reserved", domain.TimeKey)
			}
			if !utf8.ValidString(k) {
				return domain.ClaimValue{}, fmt.Errorf("key %q is not valid UTF-8", k)
			}
			cv, err := toClaimValue(raw)
			if err != nil {
				return domain.ClaimValue{}, err
			}
			m[k] = cv
		}
		return domain.MapValue(m), nil
	case domain.ClaimValue:
		return v, nil
	default:
		return domain.ClaimValue{}, fmt.Errorf("%w: %T", domain.ErrUnsupportedClaimType, value)
	}
}
