// Package agent wraps the Gemini Computer Use API behind a small decision
// interface consumed by the plan runner.
package agent

import (
	"fmt"
	"strings"
	"time"
)

// Logger prints debug traces for Computer Use turns. Disabled by default;
// enabled via COMPUTER_USE_DEBUG so noisy model traffic stays out of
// normal logs.
type Logger struct {
	enabled bool
}

// NewLogger creates a new logger.
func NewLogger(enabled bool) *Logger {
	return &Logger{enabled: enabled}
}

// timestamp returns a formatted timestamp.
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// Turn logs the prompt sent for one decision turn.
func (l *Logger) Turn(turn int, stepID, prompt string) {
	if !l.enabled {
		return
	}
	fmt.Printf("[%s] computer-use turn=%d step=%s prompt=%s\n",
		timestamp(), turn, stepID, truncate(strings.ReplaceAll(prompt, "\n", " "), 2000))
}

// Decision logs the actions the model proposed.
func (l *Logger) Decision(summary string) {
	if !l.enabled {
		return
	}
	fmt.Printf("[%s] computer-use actions=%s\n", timestamp(), truncate(summary, 2000))
}

// Aliased logs an action name rewrite.
func (l *Logger) Aliased(from, to string) {
	if !l.enabled {
		return
	}
	fmt.Printf("[%s] computer-use alias %s -> %s\n", timestamp(), from, to)
}

// Ignored logs a dropped unsupported action.
func (l *Logger) Ignored(name string) {
	if !l.enabled {
		return
	}
	fmt.Printf("[%s] computer-use ignoring unsupported action %q\n", timestamp(), name)
}

// Error logs an error with context.
func (l *Logger) Error(context string, err error) {
	if !l.enabled {
		return
	}
	fmt.Printf("[%s] computer-use error [%s]: %v\n", timestamp(), context, err)
}

// truncate truncates a string to maxLen.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
