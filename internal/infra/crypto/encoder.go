package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/codebatai/pf-verify/internal/domain"
)

// EncodeReceipt produces the canonical signing bytes for a receipt's signed
// content: the mapping {claims, id, subject, ts}. The encoding is canonical
// JSON (keys sorted by byte order, ES6 number formatting, fixed escaping)
// with every value wrapped in an explicit [tag, value] pair: ["s",...] for
// strings, ["n",...] for numbers, ["t",...] for RFC 3339 UTC timestamps and
// ["m",{...}] for nested mappings. The tags keep distinct claim types
// distinct even when their textual forms collide, so a string "1" can never
// verify against a signature over the number 1.
func EncodeReceipt(r domain.Receipt) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(`{"claims":`)
	if err := writeValue(buf, domain.MapValue(r.Claims)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"id":`)
	if err := writeValue(buf, domain.StringValue(r.ID)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"subject":`)
	if err := writeValue(buf, domain.StringValue(r.Subject)); err != nil {
		return nil, err
	}
	buf.WriteString(`,"ts":`)
	if err := writeValue(buf, domain.TimeValue(r.IssuedAt)); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeClaims canonicalizes a claim map alone, without the receipt envelope.
func EncodeClaims(claims domain.ClaimMap) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := writeValue(buf, domain.MapValue(claims)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReceiptDigest is the lowercase hex SHA-256 of the canonical encoding.
func ReceiptDigest(r domain.Receipt) (string, error) {
	canonical, err := EncodeReceipt(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func writeValue(buf *bytes.Buffer, v domain.ClaimValue) error {
	switch v.Kind {
	case domain.KindString:
		buf.WriteString(`["s",`)
		writeString(buf, v.Str)
	case domain.KindNumber:
		num, err := canonicalizeFloat(v.Num)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUnsupportedClaimType, err)
		}
		buf.WriteString(`["n",`)
		buf.WriteString(num)
	case domain.KindTime:
		buf.WriteString(`["t",`)
		writeString(buf, v.Time.UTC().Format(time.RFC3339Nano))
	case domain.KindMap:
		buf.WriteString(`["m",`)
		if err := writeMap(buf, v.Map); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: claim kind %d", domain.ErrUnsupportedClaimType, v.Kind)
	}
	buf.WriteByte(']')
	return nil
}

func writeMap(buf *bytes.Buffer, m domain.ClaimMap) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexLower[r>>4])
				buf.WriteByte(hexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var hexLower = []byte("0123456789abcdef")

// canonicalizeFloat renders f the way ES6 Number#toString does, which is the
// shortest decimal form that round-trips. Clamping to that single form is
// what makes number encodings comparable across issuers.
func canonicalizeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.New("non-finite number")
	}
	if f == 0 {
		return "0", nil
	}

	sign := ""
	if f < 0 {
		sign = "-"
		f = math.Abs(f)
	}

	mantissa, exp, err := splitScientific(f)
	if err != nil {
		return "", err
	}

	digits := strings.ReplaceAll(mantissa, ".", "")

	if exp <= -7 || exp >= 21 {
		if len(digits) == 1 {
			return sign + digits + "e" + strconv.Itoa(exp), nil
		}
		return sign + digits[:1] + "." + digits[1:] + "e" + strconv.Itoa(exp), nil
	}

	point := exp + 1
	if point >= len(digits) {
		return sign + digits + strings.Repeat("0", point-len(digits)), nil
	}
	if point <= 0 {
		return sign + "0." + strings.Repeat("0", -point) + digits, nil
	}
	return sign + digits[:point] + "." + digits[point:], nil
}

func splitScientific(f float64) (string, int, error) {
	s := strconv.FormatFloat(f, 'e', -1, 64)
	parts := strings.SplitN(s, "e", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("invalid float format: %q", s)
	}
	exp, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid float exponent: %w", err)
	}
	return parts[0], exp, nil
}
