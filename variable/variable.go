// Package variable resolves ${<scope>.<dotted.path>} references (spec §4.3)
// against the five lookup scopes (params, env, state, inputs, matrix)
// available during task execution, and
// evaluates step conditions using the same expression space.
package variable

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/flowforge/codeflow-engine/statepath"
)

// Scopes bundles the four lookup tables a variable reference may resolve
// against. Env is read from the process environment if nil.
type Scopes struct {
	Params map[string]any
	State  map[string]any
	Inputs map[string]any
	Matrix map[string]any
	// Env overrides os.Getenv lookups; primarily for tests. Nil means read
	// from the real process environment.
	Env map[string]string
}

var refPattern = regexp.MustCompile(`\$\{([a-zA-Z_]+)\.([^}]+)\}`)

// Resolve substitutes every ${scope.path} reference in s. A reference whose
// scope is unrecognized, or whose path does not resolve within its scope,
// is replaced with the empty string — this is a deliberate policy (spec
// §4.3) so an optional-and-unused variable never crashes a workflow.
func Resolve(s string, scopes Scopes) string {
	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := refPattern.FindStringSubmatch(match)
		scope, path := groups[1], groups[2]
		v, ok := lookup(scope, path, scopes)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}

// ResolveEnv applies Resolve to every value in env, returning a fresh map.
func ResolveEnv(env map[string]string, scopes Scopes) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = Resolve(v, scopes)
	}
	return out
}

func lookup(scope, path string, scopes Scopes) (any, bool) {
	switch scope {
	case "params":
		return statepath.Resolve(scopes.Params, path)
	case "state":
		return statepath.Resolve(scopes.State, path)
	case "inputs":
		return statepath.Resolve(scopes.Inputs, path)
	case "matrix":
		return statepath.Resolve(scopes.Matrix, path)
	case "env":
		if scopes.Env != nil {
			v, ok := scopes.Env[path]
			return v, ok
		}
		v, ok := os.LookupEnv(path)
		return v, ok
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}

// Truthy implements the condition expression space (spec §4.3): empty
// string, "false", "0", "null", or absent are false; anything else is true.
func Truthy(s string) bool {
	switch s {
	case "", "false", "0", "null":
		return false
	default:
		return true
	}
}

// EvalCondition resolves condition against scopes and evaluates its
// truthiness. An empty condition is always true (no condition set means
// the step always runs).
func EvalCondition(condition string, scopes Scopes) bool {
	if condition == "" {
		return true
	}
	return Truthy(Resolve(condition, scopes))
}
