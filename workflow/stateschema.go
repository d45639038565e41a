package workflow

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowforge/codeflow-engine/workflowerr"
)

// CompiledStateSchema is a Workflow's optional state-schema hint (spec §3),
// compiled once so an engine can cheaply re-validate the run's state map
// after every UpdateState merge.
type CompiledStateSchema struct {
	schema *jsonschema.Schema
}

// CompileStateSchema compiles wf's StateSchema hint. A Workflow with no hint
// returns (nil, nil); Validate on a nil *CompiledStateSchema always
// succeeds, so callers never need a presence check before validating.
func CompileStateSchema(stateSchema RawValue) (*CompiledStateSchema, error) {
	if len(stateSchema) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(stateSchema, &doc); err != nil {
		return nil, workflowerr.Validation("workflow.CompileStateSchema", "", "state schema is not valid JSON: "+err.Error())
	}

	const resource = "state-schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resource, doc); err != nil {
		return nil, workflowerr.Validation("workflow.CompileStateSchema", "", "adding state schema resource: "+err.Error())
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, workflowerr.Validation("workflow.CompileStateSchema", "", "compiling state schema: "+err.Error())
	}
	return &CompiledStateSchema{schema: schema}, nil
}

// Validate reports whether state conforms to the compiled hint. A nil
// receiver is a no-op: workflows with no state-schema hint impose no
// constraint on their state map (spec's non-goal scopes out schema
// validation of free-form state beyond this opt-in hint).
func (c *CompiledStateSchema) Validate(state map[string]any) error {
	if c == nil {
		return nil
	}
	if err := c.schema.Validate(state); err != nil {
		return workflowerr.Validation("workflow.StateSchema.Validate", "", err.Error())
	}
	return nil
}
