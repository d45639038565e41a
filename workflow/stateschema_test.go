package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileStateSchemaNilHintIsNoop(t *testing.T) {
	schema, err := CompileStateSchema(nil)
	require.NoError(t, err)
	require.Nil(t, schema)
	require.NoError(t, schema.Validate(map[string]any{"anything": true}))
}

func TestCompileStateSchemaRejectsMalformedJSON(t *testing.T) {
	_, err := CompileStateSchema([]byte(`{not json`))
	require.Error(t, err)
}

func TestCompiledStateSchemaValidatesState(t *testing.T) {
	schema, err := CompileStateSchema([]byte(`{
		"type": "object",
		"required": ["files"],
		"properties": {
			"files": {"type": "array"}
		}
	}`))
	require.NoError(t, err)
	require.NotNil(t, schema)

	require.NoError(t, schema.Validate(map[string]any{"files": []any{"a.go"}}))
	require.Error(t, schema.Validate(map[string]any{"other": 1}))
}
