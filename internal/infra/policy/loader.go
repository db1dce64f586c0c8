package policy

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/codebatai/pf-verify/internal/domain"
	cryptoinfra "github.com/codebatai/pf-verify/internal/infra/crypto"
)

// LoadFile reads, validates and compiles a policy document. Policies are YAML
// on disk; JSON is accepted since every JSON document is valid YAML.
func LoadFile(path string) (*Engine, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Load(payload)
}

// Load validates payload against the policy schema, decodes it, checks the
// engine constraint, compiles CEL leaves and computes the policy hash.
func Load(payload []byte) (*Engine, error) {
	var generic any
	if err := yaml.Unmarshal(payload, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPolicy, err)
	}
	if err := validatePolicySchema(generic); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPolicy, err)
	}

	var doc domain.Policy
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPolicy, err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPolicy, err)
	}

	hash, err := hashDocument(generic)
	if err != nil {
		return nil, fmt.Errorf("hash policy: %w", err)
	}
	doc.Hash = hash

	programs, err := compilePrograms(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPolicy, err)
	}
	return &Engine{doc: doc, programs: programs}, nil
}

func validateDocument(doc domain.Policy) error {
	if doc.Schema != domain.PolicySchema {
		return fmt.Errorf("unsupported schema %q", doc.Schema)
	}
	if doc.DefaultEffect != "" && doc.DefaultEffect != domain.EffectDeny {
		return fmt.Errorf("default_effect %q is not supported; only deny", doc.DefaultEffect)
	}
	if doc.Engine != "" {
		constraint, err := semver.NewConstraint(doc.Engine)
		if err != nil {
			return fmt.Errorf("invalid engine constraint %q: %v", doc.Engine, err)
		}
		if !constraint.Check(semver.MustParse(EngineVersion)) {
			return fmt.Errorf("engine constraint %q does not admit evaluator %s", doc.Engine, EngineVersion)
		}
	}
	seen := make(map[string]struct{}, len(doc.Rules))
	for i, rule := range doc.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if rule.Effect != domain.EffectAllow && rule.Effect != domain.EffectDeny {
			return fmt.Errorf("rule %q has invalid effect %q", rule.ID, rule.Effect)
		}
		if rule.When != nil {
			if err := validatePredicate(rule.When); err != nil {
				return fmt.Errorf("rule %q: %v", rule.ID, err)
			}
		}
	}
	return nil
}

// validatePredicate enforces the exactly-one-branch shape of every node.
func validatePredicate(p *domain.Predicate) error {
	set := 0
	if p.Equals != nil {
		set++
		if p.Equals.Path == "" {
			return fmt.Errorf("equals predicate without path")
		}
	}
	if p.In != nil {
		set++
		if p.In.Path == "" {
			return fmt.Errorf("in predicate without path")
		}
		if len(p.In.Values) == 0 {
			return fmt.Errorf("in predicate without values")
		}
	}
	if p.Range != nil {
		set++
		if p.Range.Path == "" {
			return fmt.Errorf("range predicate without path")
		}
		if p.Range.Min == nil && p.Range.Max == nil {
			return fmt.Errorf("range predicate needs at least one bound")
		}
	}
	if p.Exists != nil {
		set++
		if p.Exists.Path == "" {
			return fmt.Errorf("exists predicate without path")
		}
	}
	if len(p.All) > 0 {
		set++
		for i := range p.All {
			if err := validatePredicate(&p.All[i]); err != nil {
				return err
			}
		}
	}
	if len(p.Any) > 0 {
		set++
		for i := range p.Any {
			if err := validatePredicate(&p.Any[i]); err != nil {
				return err
			}
		}
	}
	if p.Not != nil {
		set++
		if err := validatePredicate(p.Not); err != nil {
			return err
		}
	}
	if p.Expr != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("predicate node must set exactly one branch, has %d", set)
	}
	return nil
}

func compilePrograms(doc domain.Policy) (map[string]cel.Program, error) {
	exprs := make(map[string]struct{})
	for i := range doc.Rules {
		collectExprs(doc.Rules[i].When, exprs)
	}
	if len(exprs) == 0 {
		return nil, nil
	}
	env, err := newCELEnv()
	if err != nil {
		return nil, err
	}
	programs := make(map[string]cel.Program, len(exprs))
	for expr := range exprs {
		program, err := compileExpr(env, expr)
		if err != nil {
			return nil, err
		}
		programs[expr] = program
	}
	return programs, nil
}

func collectExprs(p *domain.Predicate, out map[string]struct{}) {
	if p == nil {
		return
	}
	if p.Expr != "" {
		out[p.Expr] = struct{}{}
	}
	for i := range p.All {
		collectExprs(&p.All[i], out)
	}
	for i := range p.Any {
		collectExprs(&p.Any[i], out)
	}
	collectExprs(p.Not, out)
}

// hashDocument is the SHA-256 of the document's RFC 8785 canonical JSON. The
// hash identifies the policy in verdict records and reports.
func hashDocument(generic any) (string, error) {
	normalized, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	canonical, err := cryptoinfra.CanonicalJSON(json.RawMessage(normalized))
	if err != nil {
		return "", err
	}
	return cryptoinfra.SHA256Hex(canonical), nil
}
