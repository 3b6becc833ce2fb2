// Package plan defines the structured plan and recording data model shared
// by the teach, synthesis, runner, and storage layers.
package plan

// Step is a single high-level step of a plan. Title, Instructions, and URL
// may contain variable placeholders that are substituted before execution.
type Step struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Instructions string `json:"instructions,omitempty"`
	URL          string `json:"url,omitempty"`
	Expect       string `json:"expect,omitempty"`
}

// Plan is a replayable workflow synthesized from a recording or authored by
// hand. Vars holds default values for the placeholders referenced by steps.
type Plan struct {
	Name     string            `json:"name"`
	Goal     string            `json:"goal,omitempty"`
	StartURL string            `json:"startUrl,omitempty"`
	Vars     map[string]string `json:"vars,omitempty"`
	Steps    []Step            `json:"steps"`
}

// Clone returns a deep copy of the plan. Runners mutate their copy when
// resolving variables, so the stored plan must never be aliased.
func (p Plan) Clone() Plan {
	out := p
	if p.Vars != nil {
		out.Vars = make(map[string]string, len(p.Vars))
		for k, v := range p.Vars {
			out.Vars[k] = v
		}
	}
	out.Steps = make([]Step, len(p.Steps))
	copy(out.Steps, p.Steps)
	return out
}

// Checkpoint is a reference screenshot attached to a plan step. During
// replay the runner compares live frames against these images to decide
// whether the step reached its expected visual state.
type Checkpoint struct {
	Label     string `json:"label,omitempty"`
	PNGBase64 string `json:"pngBase64"`
}

// Checkpoints maps step IDs to their reference screenshots.
type Checkpoints map[string][]Checkpoint
