package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/jianyangg/show-and-tell/plan"
)

// DefaultModel is the Computer Use preview model used for replay.
const DefaultModel = "gemini-2.5-computer-use-preview-10-2025"

// supportedActions are the function calls the interpreter can execute.
var supportedActions = map[string]bool{
	"navigate":        true,
	"click_at":        true,
	"type_text_at":    true,
	"wait_5_seconds":  true,
	"go_back":         true,
	"go_forward":      true,
	"search":          true,
	"hover_at":        true,
	"scroll_document": true,
	"scroll_at":       true,
	"drag_and_drop":   true,
	"key_combination": true,
}

// actionAliases maps model-invented launcher actions onto navigate.
var actionAliases = map[string]string{
	"open_web_browser": "navigate",
	"open_url":         "navigate",
}

// Observation is everything the model sees for one decision turn.
type Observation struct {
	Goal          string
	ScreenshotPNG []byte
	URL           string
	Turn          int
	History       []string
	Vars          map[string]string
	Step          plan.Step
}

// Action is one function call proposed by the model.
type Action struct {
	Name           string         `json:"name"`
	Args           map[string]any `json:"args"`
	SafetyDecision string         `json:"safety_decision,omitempty"`
}

// Decision is the model's full answer for one turn, with the prompt that
// produced it retained for diagnostics.
type Decision struct {
	Prompt          string
	ResponseSummary string
	Actions         []Action
}

// DecisionError reports an unusable Computer Use response. Prompt and
// ResponseSummary carry the exchange so operators can see what the model
// was asked and what it answered.
type DecisionError struct {
	Message         string
	Prompt          string
	ResponseSummary string
}

func (e *DecisionError) Error() string { return e.Message }

// Config holds Computer Use client configuration.
type Config struct {
	// APIKey for the Gemini API.
	APIKey string
	// Model overrides DefaultModel when set.
	Model string
	// Enabled gates all API traffic. When false, ProposeActions fails
	// fast with a DecisionError instead of silently doing nothing.
	Enabled bool
	// Debug prints prompt/response traces to stdout.
	Debug bool
}

// ComputerUse is a thin wrapper around the Gemini Computer Use API.
type ComputerUse struct {
	client  *genai.Client
	config  *genai.GenerateContentConfig
	model   string
	enabled bool
	logger  *Logger
}

// NewComputerUse creates the client. A disabled client is still returned
// so the runner can construct its dependency graph and fail only when a
// run actually needs a decision.
func NewComputerUse(ctx context.Context, cfg Config) (*ComputerUse, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	cu := &ComputerUse{
		model:   model,
		enabled: cfg.Enabled && cfg.APIKey != "",
		logger:  NewLogger(cfg.Debug),
	}
	if !cu.enabled {
		return cu, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	cu.client = client
	cu.config = &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt(), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.0),
		Tools: []*genai.Tool{
			{
				ComputerUse: &genai.ComputerUse{
					Environment: genai.EnvironmentBrowser,
				},
			},
		},
	}
	return cu, nil
}

// Enabled reports whether the client will issue API calls.
func (c *ComputerUse) Enabled() bool { return c.enabled }

// ProposeActions asks the model what to do next given the observation.
func (c *ComputerUse) ProposeActions(ctx context.Context, obs Observation) (*Decision, error) {
	if !c.enabled || c.client == nil {
		return nil, &DecisionError{
			Message: "Computer Use agent disabled. Set GEMINI_API_KEY and COMPUTER_USE_ENABLED=1.",
		}
	}

	prompt := BuildPrompt(obs)
	c.logger.Turn(obs.Turn, obs.Step.ID, prompt)

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(obs.ScreenshotPNG, "image/png"),
	}, genai.RoleUser)

	response, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{content}, c.config)
	if err != nil {
		return nil, fmt.Errorf("failed to call Computer Use model: %w", err)
	}
	if len(response.Candidates) == 0 {
		return nil, &DecisionError{
			Message:         "Computer Use returned no candidates",
			Prompt:          prompt,
			ResponseSummary: "[]",
		}
	}

	var parts []*genai.Part
	if content := response.Candidates[0].Content; content != nil {
		parts = content.Parts
	}

	actions := c.parseActions(parts, obs)
	if len(actions) == 0 {
		return nil, &DecisionError{
			Message:         "Computer Use returned no supported actions",
			Prompt:          prompt,
			ResponseSummary: summarizeRawCalls(parts),
		}
	}

	summary := summarizeActions(actions)
	c.logger.Decision(summary)

	return &Decision{
		Prompt:          prompt,
		ResponseSummary: summary,
		Actions:         actions,
	}, nil
}

// parseActions filters and normalizes the function calls in a response.
// Aliased launcher actions become navigate, salvaging a URL from the step
// instructions or the plan's url variable; unsupported actions are
// dropped. A safety_decision argument is lifted out of args so the runner
// can gate on it.
func (c *ComputerUse) parseActions(parts []*genai.Part, obs Observation) []Action {
	var actions []Action
	for _, part := range parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		name := part.FunctionCall.Name
		args := make(map[string]any, len(part.FunctionCall.Args))
		for k, v := range part.FunctionCall.Args {
			args[k] = v
		}

		if !supportedActions[name] {
			alias, ok := actionAliases[name]
			if ok {
				c.logger.Aliased(name, alias)
				name = alias
				if name == "navigate" {
					if _, has := args["url"]; !has {
						candidate := ExtractFirstURL(obs.Step.Instructions)
						if candidate == "" {
							candidate = obs.Vars["url"]
						}
						if candidate != "" {
							args["url"] = candidate
						}
					}
				}
			}
			if !supportedActions[name] {
				c.logger.Ignored(name)
				continue
			}
		}

		safety := ""
		if raw, ok := args["safety_decision"]; ok {
			if s, ok := raw.(string); ok {
				safety = s
			}
			delete(args, "safety_decision")
		}
		actions = append(actions, Action{Name: name, Args: args, SafetyDecision: safety})
	}
	return actions
}

func summarizeActions(actions []Action) string {
	data, err := json.Marshal(actions)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func summarizeRawCalls(parts []*genai.Part) string {
	type rawCall struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	}
	var calls []rawCall
	for _, part := range parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		calls = append(calls, rawCall{Name: part.FunctionCall.Name, Args: part.FunctionCall.Args})
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return "[]"
	}
	return string(data)
}

var (
	absoluteURLRe = regexp.MustCompile(`https?://[^\s)]+`)
	bareHostRe    = regexp.MustCompile(`\b(?:www\.)?[A-Za-z0-9.-]+\.[A-Za-z]{2,}(?:/[^\s)]*)?`)
)

// ExtractFirstURL pulls the first URL-looking token out of free text.
// Absolute URLs win; bare host.tld tokens are prefixed with http://.
// Returns "" when nothing URL-shaped is present.
func ExtractFirstURL(text string) string {
	if text == "" {
		return ""
	}
	if match := absoluteURLRe.FindString(text); match != "" {
		return strings.TrimRight(match, ".,)")
	}
	if match := bareHostRe.FindString(text); match != "" {
		url := strings.TrimRight(match, ".,)")
		if !strings.HasPrefix(strings.ToLower(url), "http") {
			url = "http://" + url
		}
		return url
	}
	return ""
}
