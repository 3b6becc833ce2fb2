package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Page wraps a rod page with the input primitives the teach and replay
// layers need. All coordinates are viewport CSS pixels.
type Page struct {
	page     *rod.Page
	viewport Viewport

	mu sync.Mutex
}

// Rod exposes the underlying rod page for DOM probes and frame inspection.
func (p *Page) Rod() *rod.Page {
	return p.page
}

// Viewport returns the page's fixed viewport dimensions.
func (p *Page) Viewport() Viewport {
	return p.viewport
}

// URL returns the page's current URL, or "" when it cannot be determined.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil || info == nil {
		return ""
	}
	return info.URL
}

// Navigate loads the URL (https:// is assumed when no scheme is given) and
// waits for the load event plus a short stability window.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	url := NormalizeURL(rawURL)
	if url == "" {
		return fmt.Errorf("empty url")
	}
	if err := p.page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := p.page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	waitForStableWithTimeout(p.page, 300*time.Millisecond, 5*time.Second)
	return nil
}

func (p *Page) historyStep(delta int) (bool, error) {
	history, err := proto.PageGetNavigationHistory{}.Call(p.page)
	if err != nil {
		return false, fmt.Errorf("failed to read navigation history: %w", err)
	}
	target := history.CurrentIndex + delta
	if target < 0 || target >= len(history.Entries) {
		return false, nil
	}
	err = proto.PageNavigateToHistoryEntry{EntryID: history.Entries[target].ID}.Call(p.page)
	if err != nil {
		return false, fmt.Errorf("failed to navigate history: %w", err)
	}
	waitForStableWithTimeout(p.page, 300*time.Millisecond, 5*time.Second)
	return true, nil
}

// Back moves one entry back in history. Returns false when there is no
// earlier entry, which callers report as a no-op rather than an error.
func (p *Page) Back(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.historyStep(-1)
}

// Forward moves one entry forward in history. Returns false when there is
// no later entry.
func (p *Page) Forward(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.historyStep(1)
}

// Screenshot captures the viewport as PNG. Viewport capture (not full
// page) keeps fixed overlays from repeating in stitched output.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := p.page.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

func (p *Page) dispatchMouse(evt proto.InputDispatchMouseEvent) error {
	return evt.Call(p.page)
}

// MoveMouse moves the pointer without pressing any button.
func (p *Page) MoveMouse(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseMoved,
		X:      x,
		Y:      y,
		Button: proto.InputMouseButtonNone,
	})
	if err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}
	return nil
}

// ClickAt performs clicks left clicks at the given point. clicks=2 is a
// double click, clicks=3 a triple click (selects a whole line in most
// inputs, which is how text fields are cleared before typing).
func (p *Page) ClickAt(ctx context.Context, x, y float64, clicks int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if clicks < 1 {
		clicks = 1
	}

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseMoved,
		X:      x,
		Y:      y,
		Button: proto.InputMouseButtonLeft,
	})
	if err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}

	for i := 1; i <= clicks; i++ {
		err = p.dispatchMouse(proto.InputDispatchMouseEvent{
			Type:       proto.InputDispatchMouseEventTypeMousePressed,
			X:          x,
			Y:          y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: i,
		})
		if err != nil {
			return fmt.Errorf("failed to press mouse: %w", err)
		}
		err = p.dispatchMouse(proto.InputDispatchMouseEvent{
			Type:       proto.InputDispatchMouseEventTypeMouseReleased,
			X:          x,
			Y:          y,
			Button:     proto.InputMouseButtonLeft,
			ClickCount: i,
		})
		if err != nil {
			return fmt.Errorf("failed to release mouse: %w", err)
		}
	}
	return nil
}

// DragAndDrop presses at the start point, moves to the end point in small
// interpolated steps so drag handlers fire, and releases.
func (p *Page) DragAndDrop(ctx context.Context, startX, startY, endX, endY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	const steps = 20

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseMoved,
		X:      startX,
		Y:      startY,
		Button: proto.InputMouseButtonNone,
	})
	if err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}

	err = p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          startX,
		Y:          startY,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to press mouse: %w", err)
	}

	for i := 1; i <= steps; i++ {
		t := float64(i) / steps
		err = p.dispatchMouse(proto.InputDispatchMouseEvent{
			Type:   proto.InputDispatchMouseEventTypeMouseMoved,
			X:      startX + (endX-startX)*t,
			Y:      startY + (endY-startY)*t,
			Button: proto.InputMouseButtonLeft,
		})
		if err != nil {
			return fmt.Errorf("failed to drag mouse: %w", err)
		}
	}

	err = p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          endX,
		Y:          endY,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to release mouse: %w", err)
	}
	return nil
}

func mouseButton(name string) proto.InputMouseButton {
	switch name {
	case "middle":
		return proto.InputMouseButtonMiddle
	case "right":
		return proto.InputMouseButtonRight
	default:
		return proto.InputMouseButtonLeft
	}
}

// MouseDown moves the pointer to the point and presses the named button
// ("left", "middle", "right"). Used by teach passthrough, where press and
// release arrive as separate operator events.
func (p *Page) MouseDown(ctx context.Context, x, y float64, button string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseMoved,
		X:      x,
		Y:      y,
		Button: proto.InputMouseButtonNone,
	})
	if err != nil {
		return fmt.Errorf("failed to move mouse: %w", err)
	}
	err = p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          x,
		Y:          y,
		Button:     mouseButton(button),
		ClickCount: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to press mouse: %w", err)
	}
	return nil
}

// MouseUp releases the named button at the point.
func (p *Page) MouseUp(ctx context.Context, x, y float64, button string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          x,
		Y:          y,
		Button:     mouseButton(button),
		ClickCount: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to release mouse: %w", err)
	}
	return nil
}

// KeyDown presses a key without releasing it. Unknown key names are an
// error the caller may choose to ignore.
func (p *Page) KeyDown(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, ok := lookupKey(key)
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.page.Keyboard.Press(k); err != nil {
		return fmt.Errorf("failed to press key: %w", err)
	}
	return nil
}

// KeyUp releases a previously pressed key.
func (p *Page) KeyUp(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k, ok := lookupKey(key)
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := p.page.Keyboard.Release(k); err != nil {
		return fmt.Errorf("failed to release key: %w", err)
	}
	return nil
}

func lookupKey(name string) (input.Key, bool) {
	token := strings.ToLower(strings.TrimSpace(name))
	if k, ok := namedKeys[token]; ok {
		return k, true
	}
	if k, ok := modifierKeys[token]; ok {
		return k, true
	}
	return 0, false
}

// Wheel dispatches a mouse wheel event at the given point.
func (p *Page) Wheel(ctx context.Context, x, y, deltaX, deltaY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.dispatchMouse(proto.InputDispatchMouseEvent{
		Type:   proto.InputDispatchMouseEventTypeMouseWheel,
		X:      x,
		Y:      y,
		DeltaX: deltaX,
		DeltaY: deltaY,
	})
	if err != nil {
		return fmt.Errorf("failed to dispatch wheel: %w", err)
	}
	return nil
}

// InsertText types text into the currently focused element.
func (p *Page) InsertText(ctx context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.page.InsertText(text); err != nil {
		return fmt.Errorf("failed to insert text: %w", err)
	}
	return nil
}

// PressKeyCombo presses a key combination like "Enter", "Ctrl+L", or
// "Control+Shift+R". Modifiers are held while the final key is tapped.
func (p *Page) PressKeyCombo(ctx context.Context, combo string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	modifiers, key, err := parseKeyCombo(combo)
	if err != nil {
		return err
	}

	for _, mod := range modifiers {
		if err := p.page.Keyboard.Press(mod); err != nil {
			return fmt.Errorf("failed to press modifier: %w", err)
		}
	}
	if err := p.page.Keyboard.Press(key); err != nil {
		return fmt.Errorf("failed to press key: %w", err)
	}
	if err := p.page.Keyboard.Release(key); err != nil {
		return fmt.Errorf("failed to release key: %w", err)
	}
	for i := len(modifiers) - 1; i >= 0; i-- {
		if err := p.page.Keyboard.Release(modifiers[i]); err != nil {
			return fmt.Errorf("failed to release modifier: %w", err)
		}
	}
	return nil
}

// scrollAtJS scrolls the innermost scrollable container under the point,
// falling back to the document when none exists. Returns true when an
// inner container (not the document) was scrolled.
const scrollAtJS = `(x, y, dx, dy) => {
	const point = document.elementFromPoint(x, y);
	if (!point) {
		window.scrollBy({left: dx, top: dy, behavior: 'auto'});
		return false;
	}
	let node = point;
	const isScrollable = el => {
		if (!el) return false;
		const style = window.getComputedStyle(el);
		const overflowY = style.overflowY;
		const overflowX = style.overflowX;
		const canScrollY = dy !== 0 && el.scrollHeight > el.clientHeight;
		const canScrollX = dx !== 0 && el.scrollWidth > el.clientWidth;
		return (
			((canScrollY && (overflowY === 'auto' || overflowY === 'scroll')) ||
				(canScrollX && (overflowX === 'auto' || overflowX === 'scroll')))
		);
	};
	while (node && node !== document.body && !isScrollable(node)) {
		node = node.parentElement;
	}
	if (!node) {
		window.scrollBy({left: dx, top: dy, behavior: 'auto'});
		return false;
	}
	node.scrollBy({left: dx, top: dy, behavior: 'auto'});
	return true;
}`

// ScrollAt moves the pointer to the point and scrolls the innermost
// scrollable container there, falling back to the document. Returns true
// when an inner element was scrolled.
func (p *Page) ScrollAt(ctx context.Context, x, y, deltaX, deltaY float64) (bool, error) {
	if err := p.MoveMouse(ctx, x, y); err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.page.Eval(scrollAtJS, x, y, deltaX, deltaY)
	if err != nil {
		return false, fmt.Errorf("failed to scroll at point: %w", err)
	}
	return res.Value.Bool(), nil
}

var modifierKeys = map[string]input.Key{
	"ctrl":    input.ControlLeft,
	"control": input.ControlLeft,
	"alt":     input.AltLeft,
	"option":  input.AltLeft,
	"shift":   input.ShiftLeft,
	"meta":    input.MetaLeft,
	"cmd":     input.MetaLeft,
	"command": input.MetaLeft,
	"win":     input.MetaLeft,
}

var namedKeys = map[string]input.Key{
	"enter":     input.Enter,
	"return":    input.Enter,
	"tab":       input.Tab,
	"escape":    input.Escape,
	"esc":       input.Escape,
	"space":     input.Space,
	"backspace": input.Backspace,
	"delete":    input.Delete,
	"del":       input.Delete,
	"arrowup":   input.ArrowUp,
	"up":        input.ArrowUp,
	"arrowdown": input.ArrowDown,
	"down":      input.ArrowDown,
	"arrowleft": input.ArrowLeft,
	"left":      input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"right":      input.ArrowRight,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"home":       input.Home,
	"end":        input.End,
	"a":          input.KeyA,
	"b":          input.KeyB,
	"c":          input.KeyC,
	"d":          input.KeyD,
	"e":          input.KeyE,
	"f":          input.KeyF,
	"g":          input.KeyG,
	"h":          input.KeyH,
	"i":          input.KeyI,
	"j":          input.KeyJ,
	"k":          input.KeyK,
	"l":          input.KeyL,
	"m":          input.KeyM,
	"n":          input.KeyN,
	"o":          input.KeyO,
	"p":          input.KeyP,
	"q":          input.KeyQ,
	"r":          input.KeyR,
	"s":          input.KeyS,
	"t":          input.KeyT,
	"u":          input.KeyU,
	"v":          input.KeyV,
	"w":          input.KeyW,
	"x":          input.KeyX,
	"y":          input.KeyY,
	"z":          input.KeyZ,
	"0":          input.Digit0,
	"1":          input.Digit1,
	"2":          input.Digit2,
	"3":          input.Digit3,
	"4":          input.Digit4,
	"5":          input.Digit5,
	"6":          input.Digit6,
	"7":          input.Digit7,
	"8":          input.Digit8,
	"9":          input.Digit9,
}

// parseKeyCombo splits "Ctrl+Shift+R" into held modifiers and the final
// key. A trailing "+" means the plus key itself is not supported; combos
// are what Computer Use emits, which never includes bare punctuation.
func parseKeyCombo(combo string) ([]input.Key, input.Key, error) {
	parts := strings.Split(combo, "+")
	var modifiers []input.Key
	var key input.Key
	haveKey := false

	for i, part := range parts {
		token := strings.ToLower(strings.TrimSpace(part))
		if token == "" {
			continue
		}
		if mod, ok := modifierKeys[token]; ok && i < len(parts)-1 {
			modifiers = append(modifiers, mod)
			continue
		}
		k, ok := namedKeys[token]
		if !ok {
			return nil, 0, fmt.Errorf("unsupported key %q in combination %q", part, combo)
		}
		key = k
		haveKey = true
	}
	if !haveKey {
		return nil, 0, fmt.Errorf("no key in combination %q", combo)
	}
	return modifiers, key, nil
}
