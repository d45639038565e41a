// Package workflow defines the immutable workflow definition types (spec §3):
// Workflow, Node, Strategy, Step, Template, Runtime, and Trigger. Values in
// this package are parsed once from a workflow definition file (§6) and never
// mutated afterward; runtime state lives in package task.
package workflow

type (
	// Workflow is a declarative DAG of Nodes plus the Templates they may
	// reference. It is immutable once submitted to the engine; DAG
	// acyclicity is an invariant established at submission time (Validate),
	// not at parse time.
	Workflow struct {
		Version     string     `yaml:"version" json:"version"`
		StateSchema RawValue   `yaml:"state,omitempty" json:"state,omitempty"`
		Params      []Param    `yaml:"params,omitempty" json:"params,omitempty"`
		Templates   []Template `yaml:"templates,omitempty" json:"templates,omitempty"`
		Nodes       []Node     `yaml:"nodes" json:"nodes"`
	}

	// Param declares a named workflow parameter.
	Param struct {
		Name     string   `yaml:"name" json:"name"`
		Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
		Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
		Default  RawValue `yaml:"default,omitempty" json:"default,omitempty"`
	}

	// NodeKind distinguishes nodes that run automatically from nodes that
	// always require a manual trigger regardless of a Trigger override.
	NodeKind string

	// TriggerKind selects whether a node's tasks run as soon as their
	// dependencies are satisfied (Automatic) or wait for an explicit
	// resume/trigger-all call (Manual).
	TriggerKind string

	// Trigger overrides how a node's tasks become runnable once their
	// dependencies are satisfied.
	Trigger struct {
		Kind TriggerKind `yaml:"type" json:"type"`
	}

	// StrategyKind enumerates task-generation strategies for a node. Matrix
	// is the only kind defined today.
	StrategyKind string

	// Strategy fans a node out into multiple child tasks. Exactly one of
	// Values (static) or FromState (dynamic) is set.
	Strategy struct {
		Kind      StrategyKind          `yaml:"type" json:"type"`
		Values    []map[string]RawValue `yaml:"values,omitempty" json:"values,omitempty"`
		FromState string                `yaml:"from_state,omitempty" json:"from_state,omitempty"`
	}

	// RuntimeKind selects how a node's steps execute.
	RuntimeKind string

	// Runtime describes the execution environment for a node's steps.
	// WorkingDir/User/Network/Options only apply when Kind is Container.
	Runtime struct {
		Kind       RuntimeKind       `yaml:"type" json:"type"`
		Image      string            `yaml:"image,omitempty" json:"image,omitempty"`
		WorkingDir string            `yaml:"working_dir,omitempty" json:"working_dir,omitempty"`
		User       string            `yaml:"user,omitempty" json:"user,omitempty"`
		Network    string            `yaml:"network,omitempty" json:"network,omitempty"`
		Options    map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
	}

	// Node is a unit of the DAG. Its Strategy (if any) determines how many
	// Tasks the scheduler emits for it; its DependsOn set gates runnability.
	Node struct {
		ID        string            `yaml:"id" json:"id"`
		Name      string            `yaml:"name" json:"name"`
		Kind      NodeKind          `yaml:"type,omitempty" json:"type,omitempty"`
		DependsOn []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
		Trigger   *Trigger          `yaml:"trigger,omitempty" json:"trigger,omitempty"`
		Strategy  *Strategy         `yaml:"strategy,omitempty" json:"strategy,omitempty"`
		Runtime   *Runtime          `yaml:"runtime,omitempty" json:"runtime,omitempty"`
		Steps     []Step            `yaml:"steps" json:"steps"`
		Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	}

	// ActionKind discriminates a Step's Action variant.
	ActionKind string

	// Action is one of RunScript, UseTemplate, AstGrep, or JSAstGrep. Exactly
	// one of the typed fields is populated, selected by Kind.
	Action struct {
		Kind ActionKind `yaml:"type" json:"type"`

		// RunScript: Command is the shell command to execute.
		Command string `yaml:"command,omitempty" json:"command,omitempty"`

		// UseTemplate: TemplateID references a Template; Inputs bind its
		// typed input declarations.
		TemplateID string              `yaml:"template_id,omitempty" json:"template_id,omitempty"`
		Inputs     map[string]RawValue `yaml:"inputs,omitempty" json:"inputs,omitempty"`

		// AstGrep / JSAstGrep: opaque to the scheduler, forwarded verbatim to
		// the runtime dispatcher's registered executor.
		Config map[string]RawValue `yaml:"config,omitempty" json:"config,omitempty"`
	}

	// Step is one executable unit within a Node or Template. Condition, when
	// present, is resolved (variable package) and must be truthy for the
	// step to run; a falsy condition skips the step silently.
	Step struct {
		ID        string            `yaml:"id,omitempty" json:"id,omitempty"`
		Name      string            `yaml:"name" json:"name"`
		Action    Action            `yaml:"action" json:"action"`
		Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
		Condition string            `yaml:"condition,omitempty" json:"condition,omitempty"`
	}

	// TemplateInput declares one typed, possibly-required input of a
	// Template.
	TemplateInput struct {
		Name     string   `yaml:"name" json:"name"`
		Type     string   `yaml:"type,omitempty" json:"type,omitempty"`
		Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
		Default  RawValue `yaml:"default,omitempty" json:"default,omitempty"`
	}

	// TemplateOutput declares one named output a Template's steps may
	// populate via STATE_OUTPUTS.
	TemplateOutput struct {
		Name string `yaml:"name" json:"name"`
		Type string `yaml:"type,omitempty" json:"type,omitempty"`
	}

	// Template is a reusable, parameterized step list. The expander package
	// inlines every UseTemplate reference before scheduling; Templates never
	// appear directly in a Task.
	Template struct {
		ID      string           `yaml:"id" json:"id"`
		Inputs  []TemplateInput  `yaml:"inputs,omitempty" json:"inputs,omitempty"`
		Runtime *Runtime         `yaml:"runtime,omitempty" json:"runtime,omitempty"`
		Steps   []Step           `yaml:"steps" json:"steps"`
		Outputs []TemplateOutput `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	}
)

const (
	// NodeAutomatic nodes run as soon as their dependencies are satisfied.
	NodeAutomatic NodeKind = "automatic"
	// NodeManual nodes always require an explicit trigger, independent of
	// any Trigger override.
	NodeManual NodeKind = "manual"

	// TriggerManual gates a node's tasks behind resume_workflow/trigger_all.
	TriggerManual TriggerKind = "manual"
	// TriggerAutomatic is the default; tasks run as soon as runnable.
	TriggerAutomatic TriggerKind = "automatic"

	// StrategyMatrix fans a node out into one task per matrix item.
	StrategyMatrix StrategyKind = "matrix"

	// RuntimeDirect runs steps directly on the host.
	RuntimeDirect RuntimeKind = "direct"
	// RuntimeContainer runs steps inside a container.
	RuntimeContainer RuntimeKind = "container"

	// ActionRunScript executes an inline shell command.
	ActionRunScript ActionKind = "run_script"
	// ActionUseTemplate inlines a referenced Template's steps.
	ActionUseTemplate ActionKind = "use_template"
	// ActionAstGrep invokes the ast-grep structural search/rewrite executor.
	ActionAstGrep ActionKind = "ast_grep"
	// ActionJSAstGrep invokes the JS-codemod ast-grep executor.
	ActionJSAstGrep ActionKind = "js_ast_grep"
)

// NodeByID returns the node with the given id, or false if none matches.
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// TemplateByID returns the template with the given id, or false if none
// matches.
func (w *Workflow) TemplateByID(id string) (*Template, bool) {
	for i := range w.Templates {
		if w.Templates[i].ID == id {
			return &w.Templates[i], true
		}
	}
	return nil, false
}

// IsManual reports whether a node's tasks must wait for an explicit trigger:
// either the node itself is of Manual kind, or it carries a Manual Trigger
// override.
func (n *Node) IsManual() bool {
	if n.Kind == NodeManual {
		return true
	}
	return n.Trigger != nil && n.Trigger.Kind == TriggerManual
}
