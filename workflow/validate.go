package workflow

import (
	"fmt"
	"sort"

	"github.com/flowforge/codeflow-engine/workflowerr"
)

// Validate checks DAG acyclicity, dependency references, and template
// references. It does not inline templates; use the expander package for
// that. Validate is idempotent and safe to call repeatedly (e.g. on every
// run_workflow call) since workflows are immutable once defined.
func (w *Workflow) Validate() error {
	if len(w.Nodes) == 0 {
		return workflowerr.Validation("workflow.Validate", "", "workflow has no nodes")
	}

	seen := make(map[string]bool, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return workflowerr.Validation("workflow.Validate", "", "node has empty id")
		}
		if seen[n.ID] {
			return workflowerr.Validation("workflow.Validate", n.ID, "duplicate node id")
		}
		seen[n.ID] = true
	}

	for _, n := range w.Nodes {
		for _, dep := range n.DependsOn {
			if !seen[dep] {
				return workflowerr.Validation("workflow.Validate", n.ID,
					fmt.Sprintf("depends_on references unknown node %q", dep))
			}
		}
		for _, step := range n.Steps {
			if step.Action.Kind == ActionUseTemplate {
				if _, ok := w.TemplateByID(step.Action.TemplateID); !ok {
					return workflowerr.Validation("workflow.Validate", n.ID,
						fmt.Sprintf("use_template references unknown template %q", step.Action.TemplateID))
				}
			}
		}
	}

	if err := detectNodeCycle(w.Nodes); err != nil {
		return err
	}
	return detectTemplateCycle(w.Templates)
}

// detectNodeCycle runs a depth-first search over depends_on edges, per node,
// in deterministic (sorted) order so error messages are stable across runs.
func detectNodeCycle(nodes []Node) error {
	byID := make(map[string]*Node, len(nodes))
	ids := make([]string, 0, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
		ids = append(ids, nodes[i].ID)
	}
	sort.Strings(ids)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		deps := append([]string(nil), byID[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			case gray:
				return workflowerr.Validation("workflow.Validate", id,
					fmt.Sprintf("dependency cycle detected: %v -> %s", path, dep))
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectTemplateCycle walks use_template references within template step
// lists. A template step referencing another template that (transitively)
// references the first is a validation error, since the expander would
// otherwise inline forever.
func detectTemplateCycle(templates []Template) error {
	byID := make(map[string]*Template, len(templates))
	ids := make([]string, 0, len(templates))
	for i := range templates {
		byID[templates[i].ID] = &templates[i]
		ids = append(ids, templates[i].ID)
	}
	sort.Strings(ids)

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(templates))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = gray
		path = append(path, id)
		tmpl, ok := byID[id]
		if !ok {
			return workflowerr.Validation("workflow.Validate", id, "use_template references unknown template")
		}
		refs := make([]string, 0)
		for _, step := range tmpl.Steps {
			if step.Action.Kind == ActionUseTemplate {
				refs = append(refs, step.Action.TemplateID)
			}
		}
		sort.Strings(refs)
		for _, ref := range refs {
			switch color[ref] {
			case white:
				if err := visit(ref, path); err != nil {
					return err
				}
			case gray:
				return workflowerr.Validation("workflow.Validate", id,
					fmt.Sprintf("template reference cycle detected: %v -> %s", path, ref))
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
