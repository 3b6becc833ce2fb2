package teach

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jianyangg/show-and-tell/browser"
	"github.com/jianyangg/show-and-tell/plan"
)

// Config holds teach capture tuning. Zero values mean production
// defaults.
type Config struct {
	// FrameInterval is the minimum spacing between stored frames.
	FrameInterval time.Duration
	// MaxFrames caps the stored frame buffer.
	MaxFrames int
	// Headless controls the capture browser window.
	Headless *bool
}

func (c *Config) applyDefaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.MaxFrames <= 0 {
		c.MaxFrames = DefaultMaxFrames
	}
	if c.Headless == nil {
		headless := true
		c.Headless = &headless
	}
}

// Manager owns the single active teach session. Starting a new session
// tears down any previous one first.
type Manager struct {
	config Config

	mu      sync.Mutex
	current *Session
}

// NewManager creates a teach session manager.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{config: cfg}
}

// Start launches a capture browser and begins recording. A previous
// active session is stopped and its bundle discarded.
func (m *Manager) Start(ctx context.Context, recordingID, startURL string) (*Session, error) {
	m.mu.Lock()
	previous := m.current
	m.current = nil
	m.mu.Unlock()
	if previous != nil {
		previous.stop(ctx)
	}

	bsession, err := browser.Launch(ctx, browser.Config{
		Headless: *m.config.Headless,
		Viewport: browser.RunnerViewport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch teach browser: %w", err)
	}

	page, err := bsession.NewPage(ctx)
	if err != nil {
		bsession.Close()
		return nil, fmt.Errorf("failed to open teach page: %w", err)
	}

	session := &Session{
		ID:          fmt.Sprintf("teach_%d", time.Now().UnixMilli()),
		RecordingID: recordingID,
		rec:         newRecorder(recordingID, m.config.FrameInterval, m.config.MaxFrames),
		session:     bsession,
		page:        page,
		running:     true,
	}

	if strings.TrimSpace(startURL) != "" {
		url := browser.NormalizeURL(startURL)
		if err := page.Navigate(ctx, url); err != nil {
			bsession.Close()
			return nil, fmt.Errorf("failed to open start url %s: %w", url, err)
		}
		session.StartURL = url
		session.rec.Navigate(url)
	}

	m.mu.Lock()
	m.current = session
	m.mu.Unlock()
	return session, nil
}

// Stop finishes the session and returns its bundle. An empty sessionID
// stops whichever session is active.
func (m *Manager) Stop(ctx context.Context, sessionID string) (plan.RecordingBundle, error) {
	m.mu.Lock()
	session := m.current
	if session == nil {
		m.mu.Unlock()
		return plan.RecordingBundle{}, fmt.Errorf("no active session")
	}
	if sessionID != "" && session.ID != sessionID {
		m.mu.Unlock()
		return plan.RecordingBundle{}, fmt.Errorf("no such session")
	}
	m.current = nil
	m.mu.Unlock()

	return session.stop(ctx), nil
}

// Get returns the active session when its ID matches, or nil.
func (m *Manager) Get(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || m.current.ID != sessionID {
		return nil
	}
	return m.current
}

// Active returns the current session regardless of ID, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
