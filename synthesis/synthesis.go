// Package synthesis turns a teach recording into a structured step plan
// by prompting a Gemini model with the interaction timeline and a sample
// of captured frames.
package synthesis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/jianyangg/show-and-tell/dom"
	"github.com/jianyangg/show-and-tell/plan"
)

// DefaultModel is the plan synthesis model unless PLAN_MODEL_ID overrides
// it.
const DefaultModel = "gemini-2.5-pro"

const (
	// frameLimit caps how many recording frames ride along with the
	// prompt.
	frameLimit = 8
	// eventLimit caps how much of the timeline is summarized.
	eventLimit = 2000
)

// Config holds synthesizer settings.
type Config struct {
	// APIKey authenticates against the Gemini API.
	APIKey string
	// Model overrides DefaultModel when set.
	Model string
	// Enabled gates synthesis; a disabled synthesizer fails fast.
	Enabled bool
}

// Result is a synthesized plan plus the provenance the store keeps.
type Result struct {
	Plan        plan.Plan
	Prompt      string
	RawResponse string
}

// Synthesizer produces plans from recordings.
type Synthesizer struct {
	config Config
	client *genai.Client
}

// New creates a synthesizer. A disabled synthesizer is still returned so
// callers can construct the service without credentials; Synthesize will
// fail.
func New(ctx context.Context, cfg Config) (*Synthesizer, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	s := &Synthesizer{config: cfg}
	if !cfg.Enabled {
		return s, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	s.client = client
	return s, nil
}

// Enabled reports whether synthesis is available.
func (s *Synthesizer) Enabled() bool { return s.config.Enabled && s.client != nil }

// Synthesize prompts the model with the recording and parses the strict
// JSON plan it returns.
func (s *Synthesizer) Synthesize(ctx context.Context, bundle plan.RecordingBundle, planName string) (*Result, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("plan synthesizer is disabled")
	}

	prompt := BuildPrompt(bundle, planName)

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	for index, frame := range DownsampleFrames(bundle.Frames, frameLimit) {
		png, err := base64.StdEncoding.DecodeString(frame.PNGBase64)
		if err != nil {
			continue
		}
		parts = append(parts,
			genai.NewPartFromText(fmt.Sprintf("frame_index=%d, timestamp=%.2fs", index, frame.TS)),
			genai.NewPartFromBytes(png, "image/png"),
		)
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.config.Model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.2),
			ResponseMIMEType: "application/json",
			MaxOutputTokens:  8192,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("plan model returned no candidates")
	}

	var chunks []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text := strings.TrimSpace(part.Text); text != "" {
			chunks = append(chunks, text)
		}
	}
	raw := strings.Join(chunks, "\n")
	if raw == "" {
		return nil, fmt.Errorf("plan model response contained no text")
	}

	parsed, err := ParsePlan(raw)
	if err != nil {
		return nil, err
	}
	if planName != "" {
		parsed.Name = planName
	}
	return &Result{Plan: parsed, Prompt: prompt, RawResponse: raw}, nil
}

// BuildPrompt assembles the synthesis prompt: schema example, rules, the
// toolbelt the replay agent understands, markers, and the summarized
// interaction timeline.
func BuildPrompt(bundle plan.RecordingBundle, planName string) string {
	if planName == "" {
		planName = "recorded run"
	}
	example, _ := json.Marshal(map[string]any{
		"name": planName,
		"vars": map[string]any{"example": ""},
		"steps": []map[string]any{{
			"id":           "s1",
			"title":        "Human readable summary of what happens",
			"instructions": "Natural language guidance for the Computer Use agent (full sentences).",
		}},
	})

	lines := []string{
		"You are building an automation plan for Gemini Computer Use.",
		"Return strict JSON following this schema:",
		string(example),
		"Rules:",
		"- Prefer descriptive step titles.",
		"- Provide actionable natural language instructions that reference visible UI affordances.",
		"- When you reference a plan variable use the {var} notation and register it under vars.",
		"- Prefer 3-6 concise steps that map to the marked timestamps.",
		"Computer Use toolbelt (reference these capabilities in your instructions when helpful): " +
			"navigate(url), open_web_browser(), wait_5_seconds(), go_back(), go_forward(), search(), " +
			"click_at(x,y), hover_at(x,y), type_text_at(x,y,text, press_enter=false, clear_before_typing=true), " +
			"key_combination(keys), scroll_document(direction), scroll_at(x,y,direction,magnitude), drag_and_drop(x,y,destination_x,destination_y).",
		`Write instructions as first-person imperatives (e.g., "Click the Investing link in the top navigation").`,
	}

	if len(bundle.Markers) > 0 {
		lines = append(lines, "Markers collected during teaching:")
		for _, marker := range bundle.Markers {
			label := marker.Label
			if label == "" {
				label = "Marked step"
			}
			lines = append(lines, fmt.Sprintf("- t=%.2fs :: %s", marker.TS, label))
		}
	}

	if timeline := SummarizeEvents(bundle.Events, eventLimit); len(timeline) > 0 {
		lines = append(lines,
			"Interaction timeline (chronological, already normalized into high-level cues):",
			`Use these cues to craft precise natural language instructions (e.g., "Scroll down to the market section").`,
		)
		lines = append(lines, timeline...)
	}

	lines = append(lines, "Respond with JSON only. Do not add commentary.")
	return strings.Join(lines, "\n")
}

// DownsampleFrames picks an evenly spaced subset of at most limit frames.
func DownsampleFrames(frames []plan.RecordingFrame, limit int) []plan.RecordingFrame {
	if limit <= 0 || len(frames) <= limit {
		return frames
	}
	step := len(frames) / limit
	if step < 1 {
		step = 1
	}
	out := make([]plan.RecordingFrame, 0, limit)
	for i := 0; i < len(frames) && len(out) < limit; i += step {
		out = append(out, frames[i])
	}
	return out
}

func tsText(ts float64) string {
	return fmt.Sprintf("%06.3fs", ts)
}

func clickLabel(target map[string]any) string {
	if actionable, ok := target["actionable"].(map[string]any); ok {
		if label, ok := actionable["label"].(string); ok && label != "" {
			return label
		}
		if tag, ok := actionable["tag"].(string); ok && tag != "" {
			return tag
		}
	}
	if element, ok := target["element"].(map[string]any); ok {
		if label, ok := element["label"].(string); ok && label != "" {
			return label
		}
	}
	return ""
}

// SummarizeEvents renders the recorded timeline as one high-level cue
// per line. Consecutive wheel events fold into a single scroll line.
func SummarizeEvents(events []plan.RecordingEvent, limit int) []string {
	if len(events) == 0 {
		return nil
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	var lines []string
	var scrollDX, scrollDY float64
	scrollTS := ""

	flushScroll := func() {
		if scrollDX == 0 && scrollDY == 0 {
			return
		}
		var parts []string
		if scrollDY != 0 {
			direction := "down"
			if scrollDY < 0 {
				direction = "up"
			}
			parts = append(parts, fmt.Sprintf("%s ~%d", direction, int(math.Abs(scrollDY))))
		}
		if scrollDX != 0 {
			direction := "right"
			if scrollDX < 0 {
				direction = "left"
			}
			parts = append(parts, fmt.Sprintf("%s ~%d", direction, int(math.Abs(scrollDX))))
		}
		lines = append(lines, fmt.Sprintf("%s scroll %s", scrollTS, strings.Join(parts, " & ")))
		scrollDX, scrollDY = 0, 0
		scrollTS = ""
	}

	for _, event := range events {
		ts := tsText(event.TS)

		if event.Type == "wheel" {
			scrollDX += event.DeltaX
			scrollDY += event.DeltaY
			if scrollTS == "" {
				scrollTS = ts
			}
			continue
		}
		flushScroll()

		switch event.Type {
		case "navigate":
			lines = append(lines, fmt.Sprintf("%s navigate %s", ts, event.URL))
		case "click":
			parts := []string{fmt.Sprintf("(%.1f,%.1f)", event.X, event.Y)}
			if label := clickLabel(event.Target); label != "" {
				parts = append(parts, fmt.Sprintf("%q", label))
			}
			if selector := dom.BestSelector(event.Target); selector != "" {
				parts = append(parts, selector)
			}
			if event.Button != "" {
				parts = append(parts, "button="+event.Button)
			}
			lines = append(lines, fmt.Sprintf("%s click on %s", ts, strings.Join(parts, " ")))
		case "drag":
			lines = append(lines, fmt.Sprintf("%s drag (%.1f,%.1f)->(%.1f,%.1f)",
				ts, event.StartX, event.StartY, event.EndX, event.EndY))
		case "type":
			selector, _ := event.Target["selector"].(string)
			lines = append(lines, fmt.Sprintf("%s type into %s", ts, selector))
		case "key_hold":
			lines = append(lines, fmt.Sprintf("%s key_hold %s for %.2fs",
				ts, event.Key, float64(event.DurationMS)/1000))
		case "key_down", "key_down_repeat", "key_up":
			lines = append(lines, fmt.Sprintf("%s %s %s", ts, event.Type, event.Key))
		case "marker":
			label := event.Label
			if label == "" {
				label = "Marked step"
			}
			lines = append(lines, fmt.Sprintf("%s marker %s", ts, label))
		default:
			lines = append(lines, fmt.Sprintf("%s %s", ts, event.Type))
		}
	}
	flushScroll()
	return lines
}

type rawStep struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	URL          string `json:"url"`
	Expect       string `json:"expect"`
}

type rawPlan struct {
	Name     string         `json:"name"`
	StartURL string         `json:"startUrl"`
	Vars     map[string]any `json:"vars"`
	Steps    []rawStep      `json:"steps"`
}

// ParsePlan validates and converts the model's JSON into a Plan. Every
// step needs natural-language instructions; missing IDs are filled in.
func ParsePlan(raw string) (plan.Plan, error) {
	var parsed rawPlan
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return plan.Plan{}, fmt.Errorf("plan provider returned malformed JSON: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return plan.Plan{}, fmt.Errorf("plan must contain at least one step")
	}

	p := plan.Plan{
		Name:     parsed.Name,
		StartURL: parsed.StartURL,
		Vars:     make(map[string]string, len(parsed.Vars)),
	}
	if p.Name == "" {
		p.Name = "recorded run"
	}
	for name, value := range parsed.Vars {
		if coerced, ok := plan.CoerceValue(value); ok {
			p.Vars[name] = coerced
		} else {
			p.Vars[name] = ""
		}
	}
	for i, step := range parsed.Steps {
		if strings.TrimSpace(step.Instructions) == "" {
			return plan.Plan{}, fmt.Errorf("step %d is missing instructions", i+1)
		}
		id := strings.TrimSpace(step.ID)
		if id == "" {
			id = fmt.Sprintf("s%d", i+1)
		}
		p.Steps = append(p.Steps, plan.Step{
			ID:           id,
			Title:        step.Title,
			Instructions: step.Instructions,
			URL:          step.URL,
			Expect:       step.Expect,
		})
	}
	return p, nil
}
