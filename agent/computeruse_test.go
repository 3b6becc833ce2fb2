package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/jianyangg/show-and-tell/plan"
)

func testObservation() Observation {
	return Observation{
		Goal: "Download the latest invoice",
		URL:  "https://billing.example.com/home",
		Turn: 2,
		Vars: map[string]string{"url": "https://billing.example.com"},
		Step: plan.Step{
			ID:           "s2",
			Title:        "Open the invoices tab",
			Instructions: "Click the Invoices tab in the sidebar",
		},
	}
}

func callPart(name string, args map[string]any) *genai.Part {
	return &genai.Part{FunctionCall: &genai.FunctionCall{Name: name, Args: args}}
}

func TestParseActions(t *testing.T) {
	cu := &ComputerUse{logger: NewLogger(false)}

	t.Run("supported action passes through", func(t *testing.T) {
		actions := cu.parseActions([]*genai.Part{
			callPart("click_at", map[string]any{"x": float64(120), "y": float64(480)}),
		}, testObservation())
		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if actions[0].Name != "click_at" {
			t.Errorf("name = %q", actions[0].Name)
		}
	})

	t.Run("safety decision lifted out of args", func(t *testing.T) {
		actions := cu.parseActions([]*genai.Part{
			callPart("navigate", map[string]any{"url": "https://example.com", "safety_decision": "require_confirmation"}),
		}, testObservation())
		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if actions[0].SafetyDecision != "require_confirmation" {
			t.Errorf("safety decision = %q", actions[0].SafetyDecision)
		}
		if _, ok := actions[0].Args["safety_decision"]; ok {
			t.Error("safety_decision left in args")
		}
	})

	t.Run("open_web_browser aliases to navigate with salvaged url", func(t *testing.T) {
		obs := testObservation()
		obs.Step.Instructions = "Open https://docs.example.com/guide) and read it"
		actions := cu.parseActions([]*genai.Part{
			callPart("open_web_browser", map[string]any{}),
		}, obs)
		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if actions[0].Name != "navigate" {
			t.Errorf("name = %q", actions[0].Name)
		}
		if got := actions[0].Args["url"]; got != "https://docs.example.com/guide" {
			t.Errorf("url = %v", got)
		}
	})

	t.Run("alias falls back to url variable", func(t *testing.T) {
		obs := testObservation()
		obs.Step.Instructions = "Open the portal"
		actions := cu.parseActions([]*genai.Part{
			callPart("open_url", map[string]any{}),
		}, obs)
		if len(actions) != 1 {
			t.Fatalf("expected 1 action, got %d", len(actions))
		}
		if got := actions[0].Args["url"]; got != "https://billing.example.com" {
			t.Errorf("url = %v", got)
		}
	})

	t.Run("unsupported action dropped", func(t *testing.T) {
		actions := cu.parseActions([]*genai.Part{
			callPart("summon_robot", map[string]any{}),
			callPart("wait_5_seconds", map[string]any{}),
		}, testObservation())
		if len(actions) != 1 || actions[0].Name != "wait_5_seconds" {
			t.Fatalf("actions = %v", actions)
		}
	})

	t.Run("text parts ignored", func(t *testing.T) {
		actions := cu.parseActions([]*genai.Part{
			{Text: "I will click the tab now."},
		}, testObservation())
		if len(actions) != 0 {
			t.Fatalf("expected no actions, got %v", actions)
		}
	})
}

func TestExtractFirstURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"absolute url", "Go to https://example.com/a and wait", "https://example.com/a"},
		{"trailing punctuation stripped", "Visit https://example.com/a.", "https://example.com/a"},
		{"bare host prefixed", "Open example.com/pricing in a tab", "http://example.com/pricing"},
		{"www host", "Open www.example.org now", "http://www.example.org"},
		{"no url", "Click the blue button", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractFirstURL(tt.text); got != tt.want {
				t.Errorf("ExtractFirstURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	obs := testObservation()
	obs.History = []string{"one", "two", "three", "four", "five", "six"}

	prompt := BuildPrompt(obs)
	if !strings.Contains(prompt, "Overall goal: Download the latest invoice") {
		t.Error("prompt missing goal line")
	}
	if !strings.Contains(prompt, "Turn: 2") {
		t.Error("prompt missing turn line")
	}
	if !strings.Contains(prompt, "Instructions: Click the Invoices tab") {
		t.Error("prompt missing instructions line")
	}
	if strings.Contains(prompt, "- one") {
		t.Error("history not truncated to last five entries")
	}
	if !strings.Contains(prompt, "- six") {
		t.Error("prompt missing most recent history entry")
	}

	// Deterministic: same observation yields the same prompt.
	if again := BuildPrompt(obs); again != prompt {
		t.Error("BuildPrompt is not deterministic")
	}
}

func TestProposeActionsDisabled(t *testing.T) {
	cu := &ComputerUse{logger: NewLogger(false)}
	_, err := cu.ProposeActions(context.Background(), testObservation())
	var de *DecisionError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecisionError, got %v", err)
	}
}
