package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
)

// ErrEmbeddedFrameTimeout reports that a child iframe was detected but
// never finished loading within the wait budget.
var ErrEmbeddedFrameTimeout = errors.New("embedded iframe did not finish loading before timeout")

// DefaultEmbeddedFrameTimeout bounds WaitForEmbeddedPage when the caller
// passes no explicit timeout.
const DefaultEmbeddedFrameTimeout = 20 * time.Second

var ignoredFrameURLPrefixes = []string{"about:", "chrome-error://", "data:"}

// CanonicalHost extracts the lowercase hostname from a URL, dropping a
// leading "www.". Returns "" when the URL has no usable host.
func CanonicalHost(rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return ""
	}
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// IgnoredFrameURL reports whether a frame URL is a browser-internal or
// placeholder URL that can never be the embedded application.
func IgnoredFrameURL(frameURL string) bool {
	if frameURL == "" {
		return true
	}
	for _, prefix := range ignoredFrameURLPrefixes {
		if strings.HasPrefix(frameURL, prefix) {
			return true
		}
	}
	return false
}

type candidateFrame struct {
	page *rod.Page
	url  string
}

// findCandidateFrame returns the child frame whose host matches the
// expected host, or the first non-blank child frame when no host matches.
func findCandidateFrame(page *rod.Page, expectedHost string) *candidateFrame {
	elements, err := page.Elements("iframe")
	if err != nil {
		return nil
	}

	var fallback *candidateFrame
	for _, el := range elements {
		framePage, err := el.Frame()
		if err != nil || framePage == nil {
			continue
		}
		info, err := framePage.Info()
		if err != nil || info == nil || IgnoredFrameURL(info.URL) {
			continue
		}
		if expectedHost != "" && CanonicalHost(info.URL) == expectedHost {
			return &candidateFrame{page: framePage, url: info.URL}
		}
		if fallback == nil {
			fallback = &candidateFrame{page: framePage, url: info.URL}
		}
	}
	return fallback
}

func frameReady(frame *rod.Page) bool {
	res, err := frame.Eval(`() => document.readyState`)
	if err != nil || res == nil {
		return false
	}
	return res.Value.Str() == "complete"
}

// WaitForEmbeddedPage blocks until an embedded iframe hosting the target
// site finishes loading, so that automation never acts on an empty viewer
// shell while the real page is still coming up.
//
// When the page itself already hosts the expected domain, or no child
// iframe ever appears, the wait returns nil: pages without iframes are
// perfectly normal. A detected iframe that never becomes ready yields
// ErrEmbeddedFrameTimeout.
func (p *Page) WaitForEmbeddedPage(ctx context.Context, startURL string, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}

	expectedHost := CanonicalHost(startURL)
	if expectedHost != "" && CanonicalHost(p.URL()) == expectedHost {
		waitForStableWithTimeout(p.page, 300*time.Millisecond, 4*time.Second)
		return nil
	}

	deadline := time.Now().Add(timeout)
	sawFrame := false

	for time.Now().Before(deadline) {
		candidate := findCandidateFrame(p.page, expectedHost)
		if candidate != nil {
			sawFrame = true
			if frameReady(candidate.page) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}

	if !sawFrame {
		return nil
	}
	if expectedHost != "" {
		return fmt.Errorf("%w (expected host: %s)", ErrEmbeddedFrameTimeout, expectedHost)
	}
	return ErrEmbeddedFrameTimeout
}
