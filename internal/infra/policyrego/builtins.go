package policyrego

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the safe subset a bundle may call. Anything that can
// reach the network, the runtime or the environment stays out.
var allowedBuiltins = map[string]struct{}{
	"abs":                   {},
	"ceil":                  {},
	"concat":                {},
	"contains":              {},
	"count":                 {},
	"eq":                    {},
	"equal":                 {},
	"endswith":              {},
	"floor":                 {},
	"format_int":            {},
	"json.marshal":          {},
	"json.unmarshal":        {},
	"lower":                 {},
	"max":                   {},
	"min":                   {},
	"neq":                   {},
	"object.get":            {},
	"object.remove":         {},
	"object.union":          {},
	"replace":               {},
	"round":                 {},
	"sort":                  {},
	"split":                 {},
	"sprintf":               {},
	"startswith":            {},
	"substring":             {},
	"sum":                   {},
	"time.parse_rfc3339_ns": {},
	"trim":                  {},
	"trim_left":             {},
	"trim_right":            {},
	"upper":                 {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
