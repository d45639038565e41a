package workflow

import "gopkg.in/yaml.v3"

// ParseYAML decodes a workflow definition document (spec §6: version,
// params, optional state, templates, nodes) into a Workflow. It does not
// validate DAG structure; call Validate afterward.
func ParseYAML(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// SerializeYAML renders w back to its canonical document form. Round-tripping
// through ParseYAML/SerializeYAML preserves every field (spec §8's
// parse(serialize(workflow)) == workflow round-trip law).
func (w *Workflow) SerializeYAML() ([]byte, error) {
	return yaml.Marshal(w)
}
