// Package browser provides the browser automation layer using go-rod.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Viewport defines browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// RunnerViewport is the fixed viewport used for replay. The action grid is
// denormalized against these dimensions, so recordings and replays must
// agree on them.
var RunnerViewport = Viewport{Width: 1440, Height: 900}

// Config holds browser session configuration.
type Config struct {
	// Headless launches Chromium without a visible window.
	Headless bool
	// Viewport applied to every new page. Zero value means RunnerViewport.
	Viewport Viewport
	// Locale passed to the browser (Accept-Language).
	Locale string
}

func (c *Config) applyDefaults() {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = RunnerViewport
	}
	if c.Locale == "" {
		c.Locale = "en-US"
	}
}

// Session owns a launched Chromium instance and the pages opened in it.
type Session struct {
	launcher *launcher.Launcher
	rod      *rod.Browser
	config   Config

	mu     sync.Mutex
	closed bool
}

// Launch starts a Chromium instance and connects to it.
func Launch(ctx context.Context, cfg Config) (*Session, error) {
	cfg.applyDefaults()

	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-gpu").
		Set("lang", cfg.Locale)

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Session{launcher: l, rod: browser, config: cfg}, nil
}

// NewPage opens a blank page with the session viewport applied.
func (s *Session) NewPage(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("browser session is closed")
	}

	page, err := s.rod.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.config.Viewport.Width,
		Height:            s.config.Viewport.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return &Page{page: page.Context(ctx), viewport: s.config.Viewport}, nil
}

// Close shuts down the browser and cleans up the launcher's user data dir.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.rod != nil {
		if err := s.rod.Close(); err != nil {
			if s.launcher != nil {
				s.launcher.Cleanup()
			}
			return fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if s.launcher != nil {
		s.launcher.Cleanup()
	}
	return nil
}

// waitForStableWithTimeout waits for the page to stabilize with an overall
// timeout. This prevents indefinite blocking on pages with continuous
// animations or video.
func waitForStableWithTimeout(page *rod.Page, stabilityDuration, maxWait time.Duration) {
	if page == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = page.WaitStable(stabilityDuration)
	}()

	select {
	case <-done:
	case <-time.After(maxWait):
		// Page may still be animating; continue anyway.
	}
}

// NormalizeURL prefixes https:// when the URL carries no scheme.
func NormalizeURL(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}
