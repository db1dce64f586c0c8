package policy

import (
	"fmt"
	"strconv"

	"github.com/google/cel-go/cel"

	"github.com/codebatai/pf-verify/internal/domain"
)

// celCostLimit bounds evaluation cost so a pathological expression cannot
// stall a verification batch.
const celCostLimit = 1_000_000

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("ts", cel.TimestampType),
		cel.Variable("claims", cel.DynType),
	)
}

func compileExpr(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expr: %w", issues.Err())
	}
	program, err := env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("build expr program: %w", err)
	}
	return program, nil
}

// evalExpr runs a compiled CEL leaf. Evaluation errors and non-boolean
// results are predicate misses, not failures.
func evalExpr(program cel.Program, input domain.PolicyInput) bool {
	if program == nil {
		return false
	}
	out, _, err := program.Eval(map[string]any{
		"subject": input.Subject,
		"id":      input.ReceiptID,
		"ts":      input.IssuedAt,
		"claims":  input.Claims.Native(),
	})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
