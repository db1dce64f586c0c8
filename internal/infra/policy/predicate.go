package policy

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/codebatai/pf-verify/internal/domain"
)

func evalPredicate(p *domain.Predicate, programs map[string]cel.Program, input domain.PolicyInput) bool {
	switch {
	case p == nil:
		return true
	case p.Equals != nil:
		return evalEquals(p.Equals, input)
	case p.In != nil:
		return evalIn(p.In, input)
	case p.Range != nil:
		return evalRange(p.Range, input)
	case p.Exists != nil:
		_, ok := resolvePath(p.Exists.Path, input)
		return ok
	case len(p.All) > 0:
		for i := range p.All {
			if !evalPredicate(&p.All[i], programs, input) {
				return false
			}
		}
		return true
	case len(p.Any) > 0:
		for i := range p.Any {
			if evalPredicate(&p.Any[i], programs, input) {
				return true
			}
		}
		return false
	case p.Not != nil:
		return !evalPredicate(p.Not, programs, input)
	case p.Expr != "":
		return evalExpr(programs[p.Expr], input)
	default:
		return false
	}
}

// resolvePath addresses subject, id, ts, and claims.<dotted.path>. Dots inside
// claim names are not escapable; receipts that need them should nest instead.
func resolvePath(path string, input domain.PolicyInput) (domain.ClaimValue, bool) {
	switch path {
	case "subject":
		return domain.StringValue(input.Subject), true
	case "id":
		return domain.StringValue(input.ReceiptID), true
	case "ts":
		return domain.TimeValue(input.IssuedAt), true
	}
	rest, ok := strings.CutPrefix(path, "claims.")
	if !ok || rest == "" {
		return domain.ClaimValue{}, false
	}
	current := input.Claims
	segments := strings.Split(rest, ".")
	for i, segment := range segments {
		value, ok := current[segment]
		if !ok {
			return domain.ClaimValue{}, false
		}
		if i == len(segments)-1 {
			return value, true
		}
		if value.Kind != domain.KindMap {
			return domain.ClaimValue{}, false
		}
		current = value.Map
	}
	return domain.ClaimValue{}, false
}

func evalEquals(p *domain.EqualsPredicate, input domain.PolicyInput) bool {
	value, ok := resolvePath(p.Path, input)
	if !ok {
		return false
	}
	return literalEquals(value, p.Value)
}

func evalIn(p *domain.InPredicate, input domain.PolicyInput) bool {
	value, ok := resolvePath(p.Path, input)
	if !ok {
		return false
	}
	for _, literal := range p.Values {
		if literalEquals(value, literal) {
			return true
		}
	}
	return false
}

func evalRange(p *domain.RangePredicate, input domain.PolicyInput) bool {
	value, ok := resolvePath(p.Path, input)
	if !ok {
		return false
	}
	switch value.Kind {
	case domain.KindNumber:
		if p.Min != nil {
			min, ok := literalNumber(p.Min)
			if !ok || value.Num < min {
				return false
			}
		}
		if p.Max != nil {
			max, ok := literalNumber(p.Max)
			if !ok || value.Num > max {
				return false
			}
		}
		return p.Min != nil || p.Max != nil
	case domain.KindTime:
		if p.Min != nil {
			min, ok := literalTime(p.Min)
			if !ok || value.Time.Before(min) {
				return false
			}
		}
		if p.Max != nil {
			max, ok := literalTime(p.Max)
			if !ok || value.Time.After(max) {
				return false
			}
		}
		return p.Min != nil || p.Max != nil
	default:
		return false
	}
}

// literalEquals compares a claim value against a policy literal. Literals are
// strings or numbers; a string literal also matches a timestamp claim when it
// parses as RFC 3339 and names the same instant.
func literalEquals(value domain.ClaimValue, literal any) bool {
	switch value.Kind {
	case domain.KindString:
		s, ok := literal.(string)
		return ok && s == value.Str
	case domain.KindNumber:
		n, ok := literalNumber(literal)
		return ok && n == value.Num
	case domain.KindTime:
		t, ok := literalTime(literal)
		return ok && t.Equal(value.Time)
	default:
		return false
	}
}

func literalNumber(literal any) (float64, bool) {
	switch v := literal.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func literalTime(literal any) (time.Time, bool) {
	switch v := literal.(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case time.Time:
		return v.UTC(), true
	default:
		return time.Time{}, false
	}
}

func formatClaim(value domain.ClaimValue) (string, bool) {
	switch value.Kind {
	case domain.KindString:
		return value.Str, true
	case domain.KindNumber:
		return formatNumber(value.Num), true
	case domain.KindTime:
		return value.Time.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}
