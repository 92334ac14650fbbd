// Package engine is the boundary to the speech synthesis backend. The host
// only sees the Engine and Handle contracts; model loading and inference live
// behind them.
package engine

import (
	"context"
	"errors"
	"os"
)

// ErrNotInitialized is reported when synthesis is requested before a
// successful initialize.
var ErrNotInitialized = errors.New("TTS not initialized. Send 'initialize' command first.")

// SynthRequest carries one synthesis call.
type SynthRequest struct {
	Text      string
	Lang      string
	Style     Style
	TotalStep int
	Speed     float32
}

// Result is the raw engine output: mono float samples, nominally in [-1, 1].
type Result struct {
	Samples    []float32
	SampleRate uint32
}

// Handle is an initialized engine instance.
type Handle interface {
	Synthesize(ctx context.Context, req SynthRequest) (Result, error)
	SampleRate() uint32
}

// Engine creates handles and loads voice styles.
type Engine interface {
	// Initialize loads the models found in modelDir.
	Initialize(ctx context.Context, modelDir string, useGPU bool) (Handle, error)
	// LoadVoiceStyle reads one style per path and batches them.
	LoadVoiceStyle(ctx context.Context, paths []string, verbose bool) (Style, error)
	// ReleaseTransientBuffers drops scratch memory held between calls. Best effort.
	ReleaseTransientBuffers()
}

// State holds the process-wide engine handle. It is accessed only from the
// dispatch loop, so it carries no lock.
type State struct {
	handle Handle
}

// Get returns the current handle, if any.
func (s *State) Get() (Handle, bool) {
	if s == nil || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Set replaces the current handle.
func (s *State) Set(h Handle) {
	s.handle = h
}

// ResolveModelDir picks the first existing directory among requested and the
// fallbacks. When none exists, requested is returned unchanged and the engine
// reports the failure.
func ResolveModelDir(requested string, fallbacks []string, exists func(string) bool) string {
	if exists == nil {
		exists = PathExists
	}
	if exists(requested) {
		return requested
	}
	for _, candidate := range fallbacks {
		if candidate != "" && exists(candidate) {
			return candidate
		}
	}
	return requested
}

// PathExists reports whether path can be stat'ed.
func PathExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
