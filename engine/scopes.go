package engine

import (
	"encoding/json"

	"github.com/flowforge/codeflow-engine/task"
	"github.com/flowforge/codeflow-engine/workflow"
)

// paramsScope builds the params lookup scope for variable resolution: every
// declared Param gets its provided value or, absent that, its Default;
// undeclared provided keys pass through unchanged.
func paramsScope(wf *workflow.Workflow, provided map[string]string) map[string]any {
	out := make(map[string]any, len(wf.Params)+len(provided))
	for _, p := range wf.Params {
		if v, ok := provided[p.Name]; ok {
			out[p.Name] = v
			continue
		}
		if len(p.Default) > 0 {
			var decoded any
			if err := json.Unmarshal(p.Default, &decoded); err == nil {
				out[p.Name] = decoded
			}
		}
	}
	for k, v := range provided {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// matrixScope decodes a task's stored MatrixValue (json.RawMessage) into the
// map variable resolution expects. Non-matrix tasks have a nil MatrixValue
// and resolve to an empty scope.
func matrixScope(t *task.Task) map[string]any {
	if len(t.MatrixValue) == 0 {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(t.MatrixValue, &decoded); err != nil {
		return nil
	}
	return decoded
}

// inputsScope decodes a step's bound template inputs (Action.Inputs) into a
// plain map for variable resolution.
func inputsScope(inputs map[string]workflow.RawValue) map[string]any {
	if len(inputs) == 0 {
		return nil
	}
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			out[k] = decoded
		}
	}
	return out
}

// configBytes flattens a step's opaque action Config (AstGrep/JSAstGrep) from
// RawValue-encoded JSON into raw bytes for dispatch.Request.Config.
func configBytes(cfg map[string]workflow.RawValue) map[string][]byte {
	if len(cfg) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(cfg))
	for k, v := range cfg {
		out[k] = []byte(v)
	}
	return out
}
