// Package testutil provides shared test helpers for foldervault tests.
package testutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Epoch is the default start time of a Clock.
var Epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

// Clock is a manual time source. Every call to Now advances it by Step, so records
// written one after another get strictly increasing timestamps.
type Clock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

// NewClock returns a clock starting at Epoch that advances by step on each read.
func NewClock(step time.Duration) *Clock {
	return &Clock{t: Epoch, step: step}
}

// Now advances the clock by its step and returns the new time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Peek returns the current time without advancing.
func (c *Clock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// WriteFile creates a file with the given content under dir and returns its path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}
