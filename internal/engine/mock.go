package engine

import (
	"context"
	"fmt"
	"math"
	"unicode/utf8"
)

// MaxMockSeconds caps the length of a mock rendering.
const MaxMockSeconds = 30.0

type mockEngine struct {
	sampleRate uint32
}

type mockHandle struct {
	sampleRate uint32
}

// NewMock returns an Engine that renders a quiet tone whose length follows the
// text, for running the host without model assets.
func NewMock(sampleRate uint32) Engine {
	if sampleRate == 0 {
		sampleRate = 24000
	}
	return &mockEngine{sampleRate: sampleRate}
}

func (m *mockEngine) Initialize(ctx context.Context, _ string, _ bool) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &mockHandle{sampleRate: m.sampleRate}, nil
}

func (m *mockEngine) LoadVoiceStyle(_ context.Context, paths []string, _ bool) (Style, error) {
	n := int64(len(paths))
	return Style{
		TTL:   Tensor{Dims: []int64{n, 1, 1}, Data: make([]float32, n)},
		DP:    Tensor{Dims: []int64{n, 1, 1}, Data: make([]float32, n)},
		Paths: append([]string(nil), paths...),
	}, nil
}

func (m *mockEngine) ReleaseTransientBuffers() {}

func (h *mockHandle) SampleRate() uint32 { return h.sampleRate }

func (h *mockHandle) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	speed := float64(req.Speed)
	if math.IsNaN(speed) || math.IsInf(speed, 0) {
		return Result{}, fmt.Errorf("invalid speed %v", req.Speed)
	}
	if speed <= 0 {
		speed = 1
	}
	// 60ms per character at speed 1.0
	seconds := min(0.06*float64(utf8.RuneCountInString(req.Text))/speed, MaxMockSeconds)
	samples := make([]float32, int(seconds*float64(h.sampleRate)))
	step := 2 * math.Pi * 220 / float64(h.sampleRate)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(step*float64(i)))
	}
	return Result{Samples: samples, SampleRate: h.sampleRate}, nil
}
