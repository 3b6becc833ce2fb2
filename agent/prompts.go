package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt returns the system instruction for the Computer Use model.
// The tool list mirrors the actions the interpreter knows how to execute;
// anything else the model emits is aliased or dropped.
func SystemPrompt() string {
	return `You control a Chromium browser. Execute ONLY the current plan step and emit at most two actions per turn.
Available tools (call exactly with the spelled names):
- navigate(url: str)
- open_web_browser()
- wait_5_seconds()
- go_back()
- go_forward()
- search()
- click_at(x: int, y: int)
- hover_at(x: int, y: int)
- type_text_at(x: int, y: int, text: str, press_enter: bool = false, clear_before_typing: bool = true)
- key_combination(keys: str)
- scroll_document(direction: str)
- scroll_at(x: int, y: int, direction: str, magnitude: int = 800)
- drag_and_drop(x: int, y: int, destination_x: int, destination_y: int)
Coordinate arguments use a 0-999 grid mapped to the viewport.
Favor the tool that best matches the plan step. Avoid redundant browser launches or waits unless explicitly helpful.`
}

// BuildPrompt renders the deterministic per-turn prompt. The same
// observation always produces the same text, which keeps failure
// diagnostics reproducible.
func BuildPrompt(obs Observation) string {
	varsJSON, _ := json.Marshal(obs.Vars)
	stepJSON, _ := json.Marshal(obs.Step)

	lines := []string{
		fmt.Sprintf("Overall goal: %s", obs.Goal),
		fmt.Sprintf("Current URL: %s", obs.URL),
		fmt.Sprintf("Turn: %d", obs.Turn),
		fmt.Sprintf("Plan variables: %s", varsJSON),
		fmt.Sprintf("Step JSON: %s", stepJSON),
	}
	if strings.TrimSpace(obs.Step.Instructions) != "" {
		lines = append(lines, fmt.Sprintf("Instructions: %s", obs.Step.Instructions))
	}
	if len(obs.History) > 0 {
		lines = append(lines, "Recent actions:")
		history := obs.History
		if len(history) > 5 {
			history = history[len(history)-5:]
		}
		for _, item := range history {
			lines = append(lines, "- "+item)
		}
	}
	return strings.Join(lines, "\n")
}
