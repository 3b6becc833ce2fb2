package showandtell

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the whole service. Zero values mean
// the documented defaults; FromEnv fills it from the process environment.
type Config struct {
	// APIKey is the Gemini API key used by both the Computer Use agent
	// and plan synthesis. Env: GEMINI_API_KEY.
	APIKey string

	// ComputerUseEnabled gates replay decisions. Runs started while the
	// agent is disabled fail on their first turn with a clear message.
	// Env: COMPUTER_USE_ENABLED.
	ComputerUseEnabled bool

	// ComputerUseModel overrides the default Computer Use model.
	// Env: COMPUTER_USE_MODEL.
	ComputerUseModel string

	// ComputerUseDebug prints prompt/response traces to stdout.
	// Env: COMPUTER_USE_DEBUG.
	ComputerUseDebug bool

	// PlanModel overrides the default plan synthesis model.
	// Env: PLAN_MODEL_ID.
	PlanModel string

	// MaxTurns bounds the decision turns one step may take (default 4).
	// Env: RUNNER_MAX_TURNS.
	MaxTurns int

	// CheckpointThreshold is the minimum visual similarity for a step
	// checkpoint to count as matched (default 0.88).
	// Env: RUNNER_CHECKPOINT_THRESHOLD.
	CheckpointThreshold float64

	// EmbeddedFrameTimeout bounds the wait for embedded iframes after a
	// start-URL navigation (default 20s).
	// Env: RUNNER_EMBEDDED_FRAME_TIMEOUT (seconds).
	EmbeddedFrameTimeout time.Duration

	// DefaultSearchURL is where the search action navigates (default
	// https://www.google.com/). Env: RUNNER_DEFAULT_SEARCH_URL.
	DefaultSearchURL string

	// Headful shows the browser windows instead of running headless.
	// Env: RUNNER_HEADFUL.
	Headful bool

	// FrameInterval is the minimum spacing between stored teach frames
	// (default 1s). Env: TEACH_FRAME_INTERVAL_SECONDS.
	FrameInterval time.Duration

	// MaxFrames caps the teach frame buffer (default 360).
	// Env: TEACH_MAX_FRAMES.
	MaxFrames int

	// RunRetention keeps completed runs queryable before they are swept
	// (default 300s). Env: RUN_RETENTION_SECONDS.
	RunRetention time.Duration

	// SweepInterval is the registry sweeper cadence (default 60s).
	// Env: RUN_SWEEP_INTERVAL_SECONDS.
	SweepInterval time.Duration

	// Addr is the HTTP listen address (default :8787).
	// Env: SHOW_AND_TELL_ADDR.
	Addr string
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8787"
	}
}

// FromEnv builds a Config from the process environment. Unset or
// malformed values keep their defaults.
func FromEnv() Config {
	return Config{
		APIKey:               os.Getenv("GEMINI_API_KEY"),
		ComputerUseEnabled:   envBool("COMPUTER_USE_ENABLED"),
		ComputerUseModel:     os.Getenv("COMPUTER_USE_MODEL"),
		ComputerUseDebug:     envBool("COMPUTER_USE_DEBUG"),
		PlanModel:            os.Getenv("PLAN_MODEL_ID"),
		MaxTurns:             envInt("RUNNER_MAX_TURNS"),
		CheckpointThreshold:  envFloat("RUNNER_CHECKPOINT_THRESHOLD"),
		EmbeddedFrameTimeout: envSeconds("RUNNER_EMBEDDED_FRAME_TIMEOUT"),
		DefaultSearchURL:     os.Getenv("RUNNER_DEFAULT_SEARCH_URL"),
		Headful:              envBool("RUNNER_HEADFUL"),
		FrameInterval:        envSeconds("TEACH_FRAME_INTERVAL_SECONDS"),
		MaxFrames:            envInt("TEACH_MAX_FRAMES"),
		RunRetention:         envSeconds("RUN_RETENTION_SECONDS"),
		SweepInterval:        envSeconds("RUN_SWEEP_INTERVAL_SECONDS"),
		Addr:                 os.Getenv("SHOW_AND_TELL_ADDR"),
	}
}

func envBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envInt(name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(name)))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(name string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(name)), 64)
	if err != nil {
		return 0
	}
	return v
}

// envSeconds reads a duration expressed as seconds, fractions allowed.
func envSeconds(name string) time.Duration {
	v := envFloat(name)
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
