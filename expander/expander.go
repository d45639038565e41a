// Package expander inlines UseTemplate steps into their referenced
// Template's step list before scheduling (spec §4.4), so the scheduler and
// engine never need to know templates exist.
package expander

import (
	"fmt"

	"github.com/flowforge/codeflow-engine/workflow"
	"github.com/flowforge/codeflow-engine/workflowerr"
)

// Expand returns a copy of wf with every node's step list fully inlined:
// each UseTemplate step is replaced by its template's steps (recursively,
// so nested template use is supported), with the template's Inputs bound
// from the step's Action.Inputs for downstream variable resolution. Unknown
// template references and reference cycles are validation errors; call
// Workflow.Validate first to catch workflow-structure errors before this
// runs, since Expand assumes node/dependency validity.
func Expand(wf *workflow.Workflow) (*workflow.Workflow, error) {
	out := *wf
	out.Nodes = make([]workflow.Node, len(wf.Nodes))
	for i, node := range wf.Nodes {
		steps, err := expandSteps(wf, node.Steps, nil)
		if err != nil {
			return nil, err
		}
		node.Steps = steps
		out.Nodes[i] = node
	}
	return &out, nil
}

func expandSteps(wf *workflow.Workflow, steps []workflow.Step, path []string) ([]workflow.Step, error) {
	var out []workflow.Step
	for _, step := range steps {
		if step.Action.Kind != workflow.ActionUseTemplate {
			out = append(out, step)
			continue
		}

		tmplID := step.Action.TemplateID
		for _, seen := range path {
			if seen == tmplID {
				return nil, workflowerr.Validation("expander.Expand", tmplID,
					fmt.Sprintf("template reference cycle: %v -> %s", path, tmplID))
			}
		}

		tmpl, ok := wf.TemplateByID(tmplID)
		if !ok {
			return nil, workflowerr.Validation("expander.Expand", tmplID, "use_template references unknown template")
		}

		inlined, err := expandSteps(wf, tmpl.Steps, append(append([]string(nil), path...), tmplID))
		if err != nil {
			return nil, err
		}

		bound := bindInputs(inlined, step.Action.Inputs)
		out = append(out, bound...)
	}
	return out, nil
}

// bindInputs attaches the UseTemplate step's input bindings onto each of
// the template's inlined steps' Action.Inputs, so the engine's variable
// resolver sees a single flat inputs binding frame per step without having
// to re-walk the template graph at execution time.
func bindInputs(steps []workflow.Step, inputs map[string]workflow.RawValue) []workflow.Step {
	if len(inputs) == 0 {
		return steps
	}
	out := make([]workflow.Step, len(steps))
	for i, step := range steps {
		merged := make(map[string]workflow.RawValue, len(inputs)+len(step.Action.Inputs))
		for k, v := range inputs {
			merged[k] = v
		}
		for k, v := range step.Action.Inputs {
			merged[k] = v
		}
		step.Action.Inputs = merged
		out[i] = step
	}
	return out
}
