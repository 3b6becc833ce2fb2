package runner

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jianyangg/show-and-tell/agent"
	"github.com/jianyangg/show-and-tell/browser"
)

// normalizedRange is the coordinate grid Computer Use emits: both axes
// run 0..999 regardless of viewport size.
const normalizedRange = 999

const defaultScrollMagnitude = 800

// toFloat converts a JSON argument to a float64, treating anything
// unparseable as 0 (matching how the model's loose typing is tolerated).
func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func toBool(value any, fallback bool) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return fallback
}

// denormalizePoint maps grid coordinates onto viewport pixels. Input is
// clamped to the grid so a stray 1000 cannot land outside the page.
func denormalizePoint(xNorm, yNorm float64) (int, int) {
	clamp := func(v float64) float64 {
		return math.Max(0, math.Min(v, normalizedRange))
	}
	width := float64(browser.RunnerViewport.Width)
	height := float64(browser.RunnerViewport.Height)
	x := int(math.Round(clamp(xNorm) / normalizedRange * (width - 1)))
	y := int(math.Round(clamp(yNorm) / normalizedRange * (height - 1)))
	return x, y
}

// scrollDeltas converts a direction plus optional magnitude into wheel
// deltas. Magnitude is clamped to keep a single model mistake from
// scrolling thousands of pages.
func scrollDeltas(direction string, magnitude any) (int, int) {
	mag := defaultScrollMagnitude
	switch v := magnitude.(type) {
	case float64:
		mag = int(v)
	case int:
		mag = v
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			mag = parsed
		}
	}
	if mag < -2000 {
		mag = -2000
	} else if mag > 2000 {
		mag = 2000
	}
	if mag < 0 {
		mag = -mag
	}

	switch strings.ToLower(direction) {
	case "up":
		return 0, -mag
	case "left":
		return -mag, 0
	case "right":
		return mag, 0
	default:
		return 0, mag
	}
}

// interpreter executes single Computer Use actions against a page.
type interpreter struct {
	page                 Page
	defaultSearchURL     string
	embeddedFrameTimeout time.Duration
	sleep                func(time.Duration)
}

// apply executes one action and returns a history summary plus the cursor
// position the action left the pointer at (nil when it has no cursor).
func (it *interpreter) apply(ctx context.Context, action agent.Action) (string, *Cursor, error) {
	name := action.Name
	args := action.Args

	switch name {
	case "navigate":
		rawURL, ok := args["url"].(string)
		if !ok || strings.TrimSpace(rawURL) == "" {
			return "", nil, runnerErrorf("navigate requires a 'url' argument")
		}
		url := browser.NormalizeURL(rawURL)
		if err := it.page.Navigate(ctx, url); err != nil {
			return "", nil, &RunnerError{Message: fmt.Sprintf("navigate to %s failed", url), Err: err}
		}
		if err := it.page.WaitForEmbeddedPage(ctx, url, it.embeddedFrameTimeout); err != nil {
			return "", nil, &RunnerError{Message: "embedded frame not ready after navigate", Err: err}
		}
		return fmt.Sprintf("navigate -> %s", url), nil, nil

	case "wait_5_seconds":
		it.sleep(5 * time.Second)
		return "wait_5_seconds", nil, nil

	case "go_back":
		moved, err := it.page.Back(ctx)
		if err != nil {
			return "", nil, &RunnerError{Message: "go_back failed", Err: err}
		}
		if !moved {
			return "go_back (noop)", nil, nil
		}
		return "go_back", nil, nil

	case "go_forward":
		moved, err := it.page.Forward(ctx)
		if err != nil {
			return "", nil, &RunnerError{Message: "go_forward failed", Err: err}
		}
		if !moved {
			return "go_forward (noop)", nil, nil
		}
		return "go_forward", nil, nil

	case "search":
		if err := it.page.Navigate(ctx, it.defaultSearchURL); err != nil {
			return "", nil, &RunnerError{Message: "search navigation failed", Err: err}
		}
		return fmt.Sprintf("search -> %s", it.defaultSearchURL), nil, nil

	case "click_at", "type_text_at":
		xNorm := toFloat(args["x"])
		yNorm := toFloat(args["y"])
		xPx, yPx := denormalizePoint(xNorm, yNorm)
		cursor := &Cursor{X: xNorm / normalizedRange, Y: yNorm / normalizedRange}

		if name == "type_text_at" {
			text, _ := args["text"].(string)
			clearFirst := toBool(args["clear_before_typing"], true)
			if clearFirst {
				// Triple-click selects the field's content so typing
				// replaces it.
				if err := it.page.ClickAt(ctx, float64(xPx), float64(yPx), 3); err != nil {
					return "", nil, &RunnerError{Message: "type_text_at click failed", Err: err}
				}
				if err := it.page.PressKeyCombo(ctx, "Delete"); err != nil {
					return "", nil, &RunnerError{Message: "type_text_at clear failed", Err: err}
				}
			} else {
				if err := it.page.ClickAt(ctx, float64(xPx), float64(yPx), 1); err != nil {
					return "", nil, &RunnerError{Message: "type_text_at click failed", Err: err}
				}
			}
			if text != "" {
				if err := it.page.InsertText(ctx, text); err != nil {
					return "", nil, &RunnerError{Message: "type_text_at typing failed", Err: err}
				}
			}
			if toBool(args["press_enter"], false) {
				if err := it.page.PressKeyCombo(ctx, "Enter"); err != nil {
					return "", nil, &RunnerError{Message: "type_text_at enter failed", Err: err}
				}
			}
		} else {
			if err := it.page.ClickAt(ctx, float64(xPx), float64(yPx), 1); err != nil {
				return "", nil, &RunnerError{Message: "click_at failed", Err: err}
			}
		}
		return fmt.Sprintf("%s @%d,%d", name, xPx, yPx), cursor, nil

	case "hover_at":
		xNorm := toFloat(args["x"])
		yNorm := toFloat(args["y"])
		xPx, yPx := denormalizePoint(xNorm, yNorm)
		cursor := &Cursor{X: xNorm / normalizedRange, Y: yNorm / normalizedRange}
		if err := it.page.MoveMouse(ctx, float64(xPx), float64(yPx)); err != nil {
			return "", nil, &RunnerError{Message: "hover_at failed", Err: err}
		}
		return "hover_at", cursor, nil

	case "scroll_document":
		direction, _ := args["direction"].(string)
		direction = strings.ToLower(direction)
		dx, dy := scrollDeltas(direction, args["magnitude"])
		cx := float64(browser.RunnerViewport.Width) / 2
		cy := float64(browser.RunnerViewport.Height) / 2
		if err := it.page.Wheel(ctx, cx, cy, float64(dx), float64(dy)); err != nil {
			return "", nil, &RunnerError{Message: "scroll_document failed", Err: err}
		}
		if direction == "" {
			direction = "down"
		}
		return fmt.Sprintf("scroll_document %s", direction), nil, nil

	case "scroll_at":
		xNorm := toFloat(args["x"])
		yNorm := toFloat(args["y"])
		direction, _ := args["direction"].(string)
		direction = strings.ToLower(direction)
		dx, dy := scrollDeltas(direction, args["magnitude"])
		xPx, yPx := denormalizePoint(xNorm, yNorm)
		cursor := &Cursor{X: xNorm / normalizedRange, Y: yNorm / normalizedRange}
		scrolledElement, err := it.page.ScrollAt(ctx, float64(xPx), float64(yPx), float64(dx), float64(dy))
		if err != nil {
			return "", nil, &RunnerError{Message: "scroll_at failed", Err: err}
		}
		label := "document"
		if scrolledElement {
			label = "element"
		}
		if direction == "" {
			direction = "down"
		}
		return fmt.Sprintf("scroll_at %s (%s)", direction, label), cursor, nil

	case "drag_and_drop":
		xNorm := toFloat(args["x"])
		yNorm := toFloat(args["y"])
		destXNorm := toFloat(args["destination_x"])
		destYNorm := toFloat(args["destination_y"])
		xPx, yPx := denormalizePoint(xNorm, yNorm)
		destXPx, destYPx := denormalizePoint(destXNorm, destYNorm)
		cursor := &Cursor{X: destXNorm / normalizedRange, Y: destYNorm / normalizedRange}
		err := it.page.DragAndDrop(ctx, float64(xPx), float64(yPx), float64(destXPx), float64(destYPx))
		if err != nil {
			return "", nil, &RunnerError{Message: "drag_and_drop failed", Err: err}
		}
		return fmt.Sprintf("drag_and_drop %d,%d->%d,%d", xPx, yPx, destXPx, destYPx), cursor, nil

	case "key_combination":
		keys, ok := args["keys"].(string)
		if !ok || keys == "" {
			return "", nil, runnerErrorf("key_combination requires a 'keys' string argument")
		}
		if err := it.page.PressKeyCombo(ctx, keys); err != nil {
			return "", nil, &RunnerError{Message: "key_combination failed", Err: err}
		}
		return fmt.Sprintf("key_combination %s", keys), nil, nil
	}

	return "", nil, runnerErrorf("unsupported Computer Use action %q", name)
}
