package types

// PlanStep is a single step of a Plan: the tool to invoke, its arguments,
// and an optional human-readable name.
type PlanStep struct {
	Tool string         `yaml:"tool" json:"tool"`
	Args map[string]any `yaml:"args" json:"args"`
	Name string         `yaml:"name,omitempty" json:"name,omitempty"`
}

// Plan is an ordered, immutable sequence of tool-call steps. Its hash
// (computed over its canonical JSON form) is the replay key.
type Plan struct {
	Version     string     `yaml:"version" json:"version"`
	Name        string     `yaml:"name,omitempty" json:"name,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []PlanStep `yaml:"steps" json:"steps"`
}

// CanonicalView returns the map form of the plan used for canonical JSON
// hashing. Field order in the map is irrelevant; canon.Canonicalize sorts
// keys itself.
func (p Plan) CanonicalView() map[string]any {
	steps := make([]any, 0, len(p.Steps))
	for _, step := range p.Steps {
		steps = append(steps, map[string]any{
			"tool": step.Tool,
			"args": step.Args,
			"name": step.Name,
		})
	}
	return map[string]any{
		"version":     p.Version,
		"name":        p.Name,
		"description": p.Description,
		"steps":       steps,
	}
}
