// Package dom provides best-effort DOM introspection for teach sessions.
// Probes describe the focused element or the element under a click so that
// recordings carry semantic hints alongside raw coordinates. Probe failures
// are swallowed: metadata is advisory and must never fail the caller.
package dom

import (
	"github.com/go-rod/rod"
)

// focusProbeJS walks document.activeElement up through parents and shadow
// hosts and returns a compact descriptor hierarchy plus a joined selector.
const focusProbeJS = `() => {
	const doc = document;
	const active = doc.activeElement;
	if (!active || active === doc.body || active === doc.documentElement) {
		return null;
	}

	const describeNode = (el) => {
		if (!el || el.nodeType !== 1) return null;
		const tag = el.tagName ? el.tagName.toLowerCase() : "element";
		const id = el.id ? "#" + el.id : "";
		const classes = el.classList ? Array.from(el.classList).slice(0, 3).map((cls) => "." + cls).join("") : "";
		const nameAttr = el.getAttribute ? el.getAttribute("name") : null;
		const roleAttr = el.getAttribute ? el.getAttribute("role") : null;
		const typeAttr = el.getAttribute ? el.getAttribute("type") : null;
		const ariaLabel = el.getAttribute ? el.getAttribute("aria-label") : null;
		const placeholder = el.getAttribute ? el.getAttribute("placeholder") : null;
		return {
			tag,
			descriptor: tag + id + classes +
				(nameAttr ? '[name="' + nameAttr + '"]' : "") +
				(roleAttr ? '[role="' + roleAttr + '"]' : "") +
				(typeAttr ? '[type="' + typeAttr + '"]' : ""),
			ariaLabel: ariaLabel && ariaLabel.trim() ? ariaLabel.trim().slice(0, 120) : null,
			placeholder: placeholder && placeholder.trim() ? placeholder.trim().slice(0, 120) : null,
			valuePreview: typeof el.value === "string" && el.value.trim() ? el.value.trim().slice(0, 120) : null,
		};
	};

	const hierarchy = [];
	const seen = new Set();
	let node = active;
	while (node && node.nodeType === 1 && !seen.has(node)) {
		seen.add(node);
		const info = describeNode(node);
		if (info) {
			hierarchy.push(info);
		}
		if (node.parentElement) {
			node = node.parentElement;
			continue;
		}
		const root = node.getRootNode ? node.getRootNode() : null;
		if (root && root.host) {
			node = root.host;
			continue;
		}
		break;
	}

	if (!hierarchy.length) {
		return null;
	}

	const top = hierarchy[0];
	const selector = hierarchy.slice(0, 6).map((info) => info.descriptor).filter(Boolean).join(" > ");

	return {
		selector,
		tag: top.tag,
		ariaLabel: top.ariaLabel,
		placeholder: top.placeholder,
		valuePreview: top.valuePreview,
		hierarchy: hierarchy.slice(0, 8).map((info) => info.descriptor),
	};
}`

// clickProbeJS hit-tests the given viewport point and describes both the
// literal element and its nearest actionable ancestor.
const clickProbeJS = `(x, y) => {
	const doc = document;
	const element = doc.elementFromPoint(x, y);
	if (!element) return null;

	const toCssPath = (el) => {
		if (!el || !el.parentElement) return null;
		const segments = [];
		let node = el;
		let depth = 0;
		while (node && node.nodeType === 1 && depth < 8) {
			let selector = node.tagName ? node.tagName.toLowerCase() : "element";
			if (node.id) {
				selector += "#" + node.id;
				segments.unshift(selector);
				break;
			}
			if (node.classList && node.classList.length) {
				selector += "." + Array.from(node.classList).slice(0, 3).join(".");
			}
			let siblingIndex = 1;
			let sibling = node.previousElementSibling;
			while (sibling) {
				if (sibling.tagName === node.tagName) siblingIndex += 1;
				sibling = sibling.previousElementSibling;
			}
			if (siblingIndex > 1) {
				selector += ":nth-of-type(" + siblingIndex + ")";
			}
			segments.unshift(selector);
			node = node.parentElement;
			depth += 1;
		}
		return segments.join(" > ");
	};

	const labelFor = (el) => {
		if (!el) return null;
		const ariaLabel = el.getAttribute && el.getAttribute("aria-label");
		if (ariaLabel && ariaLabel.trim()) return ariaLabel.trim().slice(0, 120);
		const ariaLabelledBy = el.getAttribute && el.getAttribute("aria-labelledby");
		if (ariaLabelledBy) {
			const ref = ariaLabelledBy.split(" ").map((id) => id && doc.getElementById(id)).filter(Boolean).map((refEl) => refEl.innerText || refEl.textContent || "").join(" ");
			if (ref && ref.trim()) return ref.trim().slice(0, 120);
		}
		const title = el.getAttribute && el.getAttribute("title");
		if (title && title.trim()) return title.trim().slice(0, 120);
		const text = el.innerText || el.textContent || "";
		const normalized = text.replace(/\s+/g, " ").trim();
		if (normalized) return normalized.slice(0, 120);
		return null;
	};

	const isActionable = (el) => {
		if (!el || el.nodeType !== 1) return false;
		const tag = el.tagName ? el.tagName.toLowerCase() : "";
		if (["button", "summary", "details"].includes(tag)) return true;
		if (tag === "a" && el.getAttribute("href")) return true;
		if (tag === "label") return true;
		if (tag === "input") {
			const type = (el.getAttribute("type") || "").toLowerCase();
			if (["button", "submit", "reset", "checkbox", "radio", "file"].includes(type)) return true;
		}
		const role = el.getAttribute ? el.getAttribute("role") : null;
		if (role && ["button", "link", "tab", "switch", "menuitem", "option", "checkbox"].includes(role)) return true;
		if (el.getAttribute && (el.getAttribute("onclick") || el.getAttribute("href") || el.getAttribute("for"))) return true;
		const style = window.getComputedStyle(el);
		if (style && style.cursor === "pointer") return true;
		return false;
	};

	let actionable = element;
	while (actionable && actionable !== doc.body && !isActionable(actionable)) {
		actionable = actionable.parentElement;
	}

	const summarize = (el) => {
		if (!el) return null;
		const tag = el.tagName ? el.tagName.toLowerCase() : null;
		const role = el.getAttribute ? el.getAttribute("role") : null;
		const typeAttr = el.getAttribute ? el.getAttribute("type") : null;
		return {
			tag,
			cssPath: toCssPath(el),
			label: labelFor(el),
			role: role,
			type: typeAttr,
		};
	};

	return {
		element: summarize(element),
		actionable: summarize(actionable || element),
		clickable: !!(actionable && actionable !== element),
	};
}`

// FramePathEntry locates one frame in a frame lineage, outermost first.
type FramePathEntry struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// collectFrames returns the main page followed by its direct iframe pages.
// Frames that cannot be resolved are skipped.
func collectFrames(page *rod.Page) []*rod.Page {
	frames := []*rod.Page{page}
	elements, err := page.Elements("iframe")
	if err != nil {
		return frames
	}
	for _, el := range elements {
		framePage, err := el.Frame()
		if err != nil || framePage == nil {
			continue
		}
		frames = append(frames, framePage)
	}
	return frames
}

func evalProbe(page *rod.Page, js string, args ...any) map[string]any {
	res, err := page.Eval(js, args...)
	if err != nil || res == nil || res.Value.Nil() {
		return nil
	}
	info, ok := res.Value.Val().(map[string]any)
	if !ok {
		return nil
	}
	return info
}

// DescribeFocus probes the focused element across the main frame and each
// child frame, returning the first hit annotated with the frame's URL.
// Returns nil when nothing useful is focused.
func DescribeFocus(page *rod.Page) map[string]any {
	for i, frame := range collectFrames(page) {
		info := evalProbe(frame, focusProbeJS)
		if info == nil {
			continue
		}
		if i > 0 {
			if frameInfo, err := frame.Info(); err == nil && frameInfo != nil {
				info["frameUrl"] = frameInfo.URL
			}
		}
		return info
	}
	return nil
}

// DescribeClickTarget probes the element under the given viewport point.
// When the main document has no element there (the point lands inside an
// iframe), each child frame is probed with coordinates translated into the
// frame's own space. Returns nil when no element is found.
func DescribeClickTarget(page *rod.Page, x, y float64) map[string]any {
	if info := evalProbe(page, clickProbeJS, x, y); info != nil {
		if best := BestSelector(info); best != "" {
			info["bestSelector"] = best
		}
		return info
	}

	elements, err := page.Elements("iframe")
	if err != nil {
		return nil
	}
	for _, el := range elements {
		box, err := el.Shape()
		if err != nil || box == nil || len(box.Quads) == 0 {
			continue
		}
		quad := box.Quads[0]
		left, top := quad[0], quad[1]
		framePage, err := el.Frame()
		if err != nil || framePage == nil {
			continue
		}
		info := evalProbe(framePage, clickProbeJS, x-left, y-top)
		if info == nil {
			continue
		}
		if frameInfo, err := framePage.Info(); err == nil && frameInfo != nil {
			info["frameUrl"] = frameInfo.URL
		}
		if best := BestSelector(info); best != "" {
			info["bestSelector"] = best
		}
		return info
	}
	return nil
}

// BestSelector picks the most useful CSS path from a click probe result:
// the actionable ancestor's path when present, otherwise the literal
// element's path.
func BestSelector(info map[string]any) string {
	pathOf := func(key string) string {
		sub, ok := info[key].(map[string]any)
		if !ok {
			return ""
		}
		path, _ := sub["cssPath"].(string)
		return path
	}
	if path := pathOf("actionable"); path != "" {
		return path
	}
	return pathOf("element")
}
