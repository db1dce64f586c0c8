// Package policyrego is the alternative policy backend: a Rego bundle
// evaluated by OPA behind the same evaluator port as the native engine. It is
// daemon-only; the CLI always uses the native evaluator.
package policyrego

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"github.com/codebatai/pf-verify/internal/domain"
)

const defaultQuery = "data.pfverify.policy.result"

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
}

// NewEngineFromBundlePath loads and compiles a Rego bundle directory. The
// builtin set is restricted to a safe allowlist so a policy bundle can never
// reach the network or the environment.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{
		query:      prepared,
		bundleHash: bundleHash,
	}, nil
}

func (e *Engine) PolicyHash() string {
	return e.bundleHash
}

// regoResult is the shape the bundle's result document must produce.
type regoResult struct {
	Allow bool `json:"allow"`
	Deny  []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"deny"`
	MatchedRuleID string `json:"matched_rule_id"`
}

func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error) {
	if e == nil {
		return domain.PolicyDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(buildInput(input)))
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyDecision{}, errors.New("empty policy result")
	}
	result, err := decodeResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	return buildDecision(result, e.bundleHash), nil
}

// buildInput converts the verified receipt content to JSON-shaped values;
// timestamps become RFC 3339 strings because OPA input cannot carry time.Time.
func buildInput(input domain.PolicyInput) map[string]any {
	return map[string]any{
		"subject": input.Subject,
		"id":      input.ReceiptID,
		"ts":      input.IssuedAt.UTC().Format(time.RFC3339Nano),
		"claims":  wireClaims(input.Claims),
	}
}

func wireClaims(claims domain.ClaimMap) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = wireClaim(v)
	}
	return out
}

func wireClaim(v domain.ClaimValue) any {
	switch v.Kind {
	case domain.KindString:
		return v.Str
	case domain.KindNumber:
		return v.Num
	case domain.KindTime:
		return v.Time.UTC().Format(time.RFC3339Nano)
	case domain.KindMap:
		return wireClaims(v.Map)
	default:
		return nil
	}
}

func decodeResult(value any) (regoResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return regoResult{}, err
	}
	var result regoResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return regoResult{}, err
	}
	return result, nil
}

func buildDecision(result regoResult, bundleHash string) domain.PolicyDecision {
	if result.Allow && len(result.Deny) == 0 {
		reasons := []string{"allowed by policy bundle"}
		return domain.PolicyDecision{
			Outcome:       domain.OutcomeValid,
			MatchedRuleID: result.MatchedRuleID,
			Reasons:       reasons,
			PolicyHash:    bundleHash,
		}
	}
	reasons := make([]string, 0, len(result.Deny))
	for _, deny := range result.Deny {
		reason := deny.Code
		if deny.Message != "" {
			if reason != "" {
				reason += ": "
			}
			reason += deny.Message
		}
		if reason != "" {
			reasons = append(reasons, reason)
		}
	}
	sort.Strings(reasons)
	if len(reasons) == 0 {
		reasons = []string{"no matching allow rule"}
	}
	return domain.PolicyDecision{
		Outcome:       domain.OutcomePolicyDenied,
		MatchedRuleID: result.MatchedRuleID,
		Reasons:       reasons,
		PolicyHash:    bundleHash,
	}
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
