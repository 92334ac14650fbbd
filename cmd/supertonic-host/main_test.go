package main

import (
	"testing"

	"github.com/DevGitPit/supertonic/internal/config"
)

func TestNewEngine(t *testing.T) {
	cfg := config.Default().Engine

	cfg.Mode = "mock"
	if eng, err := newEngine(cfg); err != nil || eng == nil {
		t.Fatalf("mock engine: %v", err)
	}

	cfg.Mode = "exec"
	cfg.Command = "supertonic-engine --threads 2"
	if eng, err := newEngine(cfg); err != nil || eng == nil {
		t.Fatalf("exec engine: %v", err)
	}

	cfg.Mode = "onnx"
	if _, err := newEngine(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
