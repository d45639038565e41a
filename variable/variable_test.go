package variable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveParamsAndState(t *testing.T) {
	scopes := Scopes{
		Params: map[string]any{"region": "us-east"},
		State:  map[string]any{"nested": map[string]any{"count": 3}},
	}
	assert.Equal(t, "us-east", Resolve("${params.region}", scopes))
	assert.Equal(t, "3", Resolve("${state.nested.count}", scopes))
}

func TestResolveMatrixAndInputs(t *testing.T) {
	scopes := Scopes{
		Matrix: map[string]any{"region": "eu"},
		Inputs: map[string]any{"name": "demo"},
	}
	assert.Equal(t, "running in eu for demo", Resolve("running in ${matrix.region} for ${inputs.name}", scopes))
}

func TestResolveEnvWithOverride(t *testing.T) {
	scopes := Scopes{Env: map[string]string{"HOME": "/override"}}
	assert.Equal(t, "/override", Resolve("${env.HOME}", scopes))
}

func TestResolveUnknownPathIsEmptyString(t *testing.T) {
	scopes := Scopes{Params: map[string]any{"a": 1}}
	assert.Equal(t, "value=", Resolve("value=${params.ghost}", scopes))
}

func TestResolveUnknownScopeIsEmptyString(t *testing.T) {
	assert.Equal(t, "", Resolve("${bogus.path}", Scopes{}))
}

func TestResolveMultipleReferences(t *testing.T) {
	scopes := Scopes{Params: map[string]any{"a": "x", "b": "y"}}
	assert.Equal(t, "x-y", Resolve("${params.a}-${params.b}", scopes))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(""))
	assert.False(t, Truthy("false"))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy("null"))
	assert.True(t, Truthy("true"))
	assert.True(t, Truthy("1"))
	assert.True(t, Truthy("anything"))
}

func TestEvalConditionEmptyIsAlwaysTrue(t *testing.T) {
	assert.True(t, EvalCondition("", Scopes{}))
}

func TestEvalConditionResolvesThenEvaluates(t *testing.T) {
	scopes := Scopes{State: map[string]any{"enabled": false}}
	assert.False(t, EvalCondition("${state.enabled}", scopes))

	scopes2 := Scopes{State: map[string]any{"enabled": true}}
	assert.True(t, EvalCondition("${state.enabled}", scopes2))
}

func TestResolveEnvMap(t *testing.T) {
	scopes := Scopes{Matrix: map[string]any{"file": "a.ts"}}
	out := ResolveEnv(map[string]string{"TARGET": "${matrix.file}"}, scopes)
	assert.Equal(t, "a.ts", out["TARGET"])
}
