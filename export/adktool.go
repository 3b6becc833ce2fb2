// Package export exposes the show-and-tell service as ADK tools, so an
// outer LLM agent can browse stored plans and launch replays as part of a
// larger workflow.
package export

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"

	showandtell "github.com/jianyangg/show-and-tell"
	"github.com/jianyangg/show-and-tell/plan"
	"github.com/jianyangg/show-and-tell/store"
)

// Tools wraps a service with the ADK function tools that drive it.
type Tools struct {
	svc *showandtell.Service
}

// NewTools creates the tool set for a service.
func NewTools(svc *showandtell.Service) *Tools {
	return &Tools{svc: svc}
}

// ListPlansInput is the (empty) input for the list_plans tool.
type ListPlansInput struct{}

// PlanSummary is one stored plan in a listing.
type PlanSummary struct {
	PlanID       string `json:"plan_id"`
	Name         string `json:"name"`
	HasVariables bool   `json:"has_variables" jsonschema:"True when the plan needs variable values before it can run"`
}

// ListPlansOutput is the result of the list_plans tool.
type ListPlansOutput struct {
	Plans []PlanSummary `json:"plans"`
}

// GetPlanInput selects a plan by ID.
type GetPlanInput struct {
	PlanID string `json:"plan_id" jsonschema:"ID of the plan to fetch"`
}

// GetPlanOutput carries the full plan body.
type GetPlanOutput struct {
	PlanID string    `json:"plan_id"`
	Plan   plan.Plan `json:"plan"`
	Error  string    `json:"error,omitempty"`
}

// StartRunInput launches a replay of a stored plan.
type StartRunInput struct {
	PlanID    string         `json:"plan_id" jsonschema:"ID of the plan to run"`
	StartURL  string         `json:"start_url,omitempty" jsonschema:"Optional: URL to open before the first step"`
	Variables map[string]any `json:"variables,omitempty" jsonschema:"Values for every variable the plan references"`
}

// StartRunOutput reports the launched run.
type StartRunOutput struct {
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// RunStatusInput selects a run by ID.
type RunStatusInput struct {
	RunID string `json:"run_id" jsonschema:"ID of the run to inspect"`
}

// RunStatusOutput reports where a run stands.
type RunStatusOutput struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status,omitempty"`
	Aborted bool   `json:"aborted,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (t *Tools) listPlans(ListPlansInput) ListPlansOutput {
	summaries := t.svc.Plans.List()
	out := ListPlansOutput{Plans: make([]PlanSummary, 0, len(summaries))}
	for _, summary := range summaries {
		out.Plans = append(out.Plans, PlanSummary{
			PlanID:       summary.PlanID,
			Name:         summary.Name,
			HasVariables: summary.HasVariables,
		})
	}
	return out
}

func (t *Tools) getPlan(input GetPlanInput) GetPlanOutput {
	stored, err := t.svc.Plans.Get(input.PlanID)
	if err != nil {
		return GetPlanOutput{PlanID: input.PlanID, Error: "plan not found"}
	}
	return GetPlanOutput{PlanID: stored.PlanID, Plan: stored.Plan}
}

func (t *Tools) startRun(input StartRunInput) StartRunOutput {
	variables := input.Variables
	if variables == nil {
		// An agent caller has nobody watching the websocket to answer a
		// variable prompt, so missing values must fail at start instead.
		variables = map[string]any{}
	}
	run, err := t.svc.StartRun(input.PlanID, input.StartURL, variables)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return StartRunOutput{Error: "plan not found"}
	case err != nil:
		return StartRunOutput{Error: err.Error()}
	}
	return StartRunOutput{RunID: run.ID}
}

func (t *Tools) runStatus(input RunStatusInput) RunStatusOutput {
	run, ok := t.svc.Runs.Get(input.RunID)
	if !ok {
		return RunStatusOutput{RunID: input.RunID, Error: "run not found"}
	}
	return RunStatusOutput{RunID: run.ID, Status: run.Status(), Aborted: run.Aborted()}
}

// All builds the four function tools: list_plans, get_plan, start_run,
// and get_run_status.
func (t *Tools) All() ([]tool.Tool, error) {
	listPlans, err := functiontool.New(functiontool.Config{
		Name:        "list_plans",
		Description: "List the stored browser automation plans with their IDs and whether they require variables.",
	}, func(ctx tool.Context, input ListPlansInput) (ListPlansOutput, error) {
		return t.listPlans(input), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create list_plans tool: %w", err)
	}

	getPlan, err := functiontool.New(functiontool.Config{
		Name:        "get_plan",
		Description: "Fetch a stored plan by ID, including its steps and variable defaults.",
	}, func(ctx tool.Context, input GetPlanInput) (GetPlanOutput, error) {
		return t.getPlan(input), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create get_plan tool: %w", err)
	}

	startRun, err := functiontool.New(functiontool.Config{
		Name:        "start_run",
		Description: "Launch a replay of a stored plan in a fresh browser. Supply a value for every variable the plan references.",
	}, func(ctx tool.Context, input StartRunInput) (StartRunOutput, error) {
		return t.startRun(input), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create start_run tool: %w", err)
	}

	runStatus, err := functiontool.New(functiontool.Config{
		Name:        "get_run_status",
		Description: "Check whether a previously started run is still running, completed, failed, or aborted.",
	}, func(ctx tool.Context, input RunStatusInput) (RunStatusOutput, error) {
		return t.runStatus(input), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create get_run_status tool: %w", err)
	}

	return []tool.Tool{listPlans, getPlan, startRun, runStatus}, nil
}

// AssistantConfig configures the bundled operator agent.
type AssistantConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model ID driving the assistant.
	Model string
}

// NewAssistant bundles the tools into an LLM agent that can answer
// questions about stored plans and launch replays on request.
func NewAssistant(ctx context.Context, svc *showandtell.Service, cfg AssistantConfig) (agent.Agent, error) {
	if cfg.Model == "" {
		cfg.Model = "gemini-3-flash-preview"
	}

	model, err := gemini.NewModel(ctx, cfg.Model, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini model: %w", err)
	}

	tools, err := NewTools(svc).All()
	if err != nil {
		return nil, err
	}

	assistant, err := llmagent.New(llmagent.Config{
		Name:        "show_and_tell_operator",
		Model:       model,
		Description: "Operates the show-and-tell browser automation service: lists plans and launches replays.",
		Instruction: "You manage recorded browser automation plans. Use list_plans and get_plan to inspect what exists. " +
			"Before calling start_run on a plan with has_variables, collect a value for every variable from the user. " +
			"After starting a run, report its run_id and poll get_run_status when asked about progress.",
		Tools: tools,
		GenerateContentConfig: &genai.GenerateContentConfig{
			Temperature: genai.Ptr[float32](0.2),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assistant agent: %w", err)
	}
	return assistant, nil
}
