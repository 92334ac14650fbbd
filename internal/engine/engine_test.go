package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const styleJSON = `{
  "style_ttl": {"dims": [1, 2, 2], "data": [[[0.1, 0.2], [0.3, 0.4]]]},
  "style_dp": {"dims": [1, 1, 2], "data": [[[0.5, 0.6]]]}
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolveModelDir(t *testing.T) {
	existing := map[string]bool{"../assets/onnx": true, "assets/onnx": true}
	exists := func(p string) bool { return existing[p] }
	fallbacks := []string{"../assets/onnx", "assets/onnx"}

	if got := ResolveModelDir("../../assets/onnx", fallbacks, exists); got != "../assets/onnx" {
		t.Fatalf("expected first fallback, got %s", got)
	}
	existing["custom"] = true
	if got := ResolveModelDir("custom", fallbacks, exists); got != "custom" {
		t.Fatalf("expected requested dir, got %s", got)
	}
	delete(existing, "../assets/onnx")
	if got := ResolveModelDir("missing", fallbacks, exists); got != "assets/onnx" {
		t.Fatalf("expected second fallback, got %s", got)
	}
	if got := ResolveModelDir("missing", nil, exists); got != "missing" {
		t.Fatalf("expected passthrough, got %s", got)
	}
}

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	if !PathExists(dir) {
		t.Fatal("temp dir should exist")
	}
	if PathExists(filepath.Join(dir, "nope")) {
		t.Fatal("missing path reported as existing")
	}
	if PathExists("") {
		t.Fatal("empty path reported as existing")
	}
}

func TestStateReplace(t *testing.T) {
	var s State
	if _, ok := s.Get(); ok {
		t.Fatal("new state should be empty")
	}
	first := &mockHandle{sampleRate: 1}
	second := &mockHandle{sampleRate: 2}
	s.Set(first)
	s.Set(second)
	h, ok := s.Get()
	if !ok || h.SampleRate() != 2 {
		t.Fatalf("expected second handle, got %v", h)
	}
}

func TestReadVoiceStylesBatches(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", styleJSON)
	b := writeFile(t, dir, "b.json", styleJSON)

	style, err := ReadVoiceStyles([]string{a, b})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if style.Batch() != 2 {
		t.Fatalf("batch = %d", style.Batch())
	}
	if len(style.TTL.Data) != style.TTL.Len() || style.TTL.Len() != 8 {
		t.Fatalf("ttl data = %d values, dims %v", len(style.TTL.Data), style.TTL.Dims)
	}
	if len(style.DP.Data) != 4 || style.DP.Data[2] != 0.5 {
		t.Fatalf("dp data = %v", style.DP.Data)
	}
}

func TestReadVoiceStylesErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", styleJSON)
	cases := map[string]string{
		"malformed":  `{"style_ttl":`,
		"missing dp": `{"style_ttl": {"dims": [1, 1], "data": [[1]]}}`,
		"short data": `{"style_ttl": {"dims": [1, 2], "data": [[1]]}, "style_dp": {"dims": [1, 1], "data": [[1]]}}`,
		"bad batch":  `{"style_ttl": {"dims": [2, 1], "data": [[1],[2]]}, "style_dp": {"dims": [1, 1], "data": [[1]]}}`,
		"string":     `{"style_ttl": {"dims": [1, 1], "data": [["x"]]}, "style_dp": {"dims": [1, 1], "data": [[1]]}}`,
	}
	for name, content := range cases {
		path := writeFile(t, dir, strings.ReplaceAll(name, " ", "_")+".json", content)
		if _, err := ReadVoiceStyles([]string{path}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	other := writeFile(t, dir, "other.json", `{"style_ttl": {"dims": [1, 1, 1], "data": [[[1]]]}, "style_dp": {"dims": [1, 1, 2], "data": [[[1, 2]]]}}`)
	if _, err := ReadVoiceStyles([]string{good, other}); err == nil {
		t.Error("expected dimension mismatch error")
	}
	if _, err := ReadVoiceStyles([]string{filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected read error")
	}
	if _, err := ReadVoiceStyles(nil); err == nil {
		t.Error("expected error for no paths")
	}
}

func TestReadVoiceStylesRejectsOversizedDims(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"huge":     `{"style_ttl": {"dims": [1, 1099511627776], "data": [0]}, "style_dp": {"dims": [1, 1], "data": [[1]]}}`,
		"overflow": `{"style_ttl": {"dims": [1, 4294967296, 4294967296, 4294967296], "data": [0]}, "style_dp": {"dims": [1, 1], "data": [[1]]}}`,
	}
	for name, content := range cases {
		path := writeFile(t, dir, name+".json", content)
		if _, err := ReadVoiceStyles([]string{path, path}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if got := (Tensor{Dims: []int64{1, 1 << 32, 1 << 32, 1 << 32}}).Len(); got != -1 {
		t.Errorf("overflowing Len = %d, want -1", got)
	}
}

func TestReadVoiceStylesHidesFileContent(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "secret.txt", "root:x:0:0:root:/root:/bin/bash\n")
	_, err := ReadVoiceStyles([]string{path})
	if err == nil {
		t.Fatal("expected parse error")
	}
	if strings.Contains(err.Error(), "root:x") {
		t.Fatalf("error leaks file content: %v", err)
	}
}

func TestReadVoiceStylesRejectsNonRegularFiles(t *testing.T) {
	if _, err := ReadVoiceStyles([]string{t.TempDir()}); err == nil {
		t.Fatal("expected error for a directory")
	}
}

func TestMockEngine(t *testing.T) {
	ctx := context.Background()
	eng := NewMock(16000)
	h, err := eng.Initialize(ctx, "anywhere", false)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	style, err := eng.LoadVoiceStyle(ctx, []string{"voice.json"}, false)
	if err != nil {
		t.Fatalf("style: %v", err)
	}
	res, err := h.Synthesize(ctx, SynthRequest{Text: "hello", Lang: "en", Style: style, TotalStep: 5, Speed: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.SampleRate != 16000 || len(res.Samples) == 0 {
		t.Fatalf("unexpected result: rate=%d samples=%d", res.SampleRate, len(res.Samples))
	}
	for _, s := range res.Samples {
		if s > 1 || s < -1 {
			t.Fatalf("sample out of range: %v", s)
		}
	}
}

func TestMockEngineBoundsLength(t *testing.T) {
	ctx := context.Background()
	eng := NewMock(24000)
	h, err := eng.Initialize(ctx, "anywhere", false)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	res, err := h.Synthesize(ctx, SynthRequest{Text: "hello world", Lang: "en", Speed: 0.0000001})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if limit := int(MaxMockSeconds * 24000); len(res.Samples) != limit {
		t.Fatalf("samples = %d, want cap %d", len(res.Samples), limit)
	}
	for _, speed := range []float32{float32(math.NaN()), float32(math.Inf(1))} {
		if _, err := h.Synthesize(ctx, SynthRequest{Text: "hello", Lang: "en", Speed: speed}); err == nil {
			t.Errorf("speed %v: expected error", speed)
		}
	}
}

func modelDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, ConfigFile, `{"ae": {"sample_rate": 44100}}`)
	return dir
}

func TestExecInitialize(t *testing.T) {
	eng, err := NewExec("true")
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	ctx := context.Background()

	h, err := eng.Initialize(ctx, modelDir(t), false)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if h.SampleRate() != 44100 {
		t.Fatalf("sample rate = %d", h.SampleRate())
	}

	if _, err := eng.Initialize(ctx, filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Fatal("expected error for missing dir")
	}
	if _, err := eng.Initialize(ctx, t.TempDir(), false); err == nil {
		t.Fatal("expected error for missing tts.json")
	}
	bad := t.TempDir()
	writeFile(t, bad, ConfigFile, `{"ae": {}}`)
	if _, err := eng.Initialize(ctx, bad, false); err == nil {
		t.Fatal("expected error for missing sample rate")
	}
}

func TestNewExecRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExec("   "); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewExec(`"unterminated`); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExecSynthesize(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	scripts := t.TempDir()
	// one sample of 1.0 and one of -0.5, little-endian float32
	script := writeFile(t, scripts, "engine.sh", "cat > /dev/null\nprintf '{\"samples_base64\":\"AACAPwAAAL8=\",\"sample_rate\":0}'\n")
	failing := writeFile(t, scripts, "fail.sh", "cat > /dev/null\necho boom >&2\nexit 3\n")
	reporting := writeFile(t, scripts, "report.sh", "cat > /dev/null\nprintf '{\"error\":\"bad phoneme\"}'\n")

	ctx := context.Background()
	dir := modelDir(t)
	styleDir := t.TempDir()
	style, err := ReadVoiceStyles([]string{writeFile(t, styleDir, "voice.json", styleJSON)})
	if err != nil {
		t.Fatal(err)
	}

	eng, err := NewExec("sh " + script)
	if err != nil {
		t.Fatal(err)
	}
	h, err := eng.Initialize(ctx, dir, false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := h.Synthesize(ctx, SynthRequest{Text: "hi", Lang: "en", Style: style, TotalStep: 5, Speed: 1})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(res.Samples) != 2 || res.Samples[0] != 1.0 || res.Samples[1] != -0.5 {
		t.Fatalf("samples = %v", res.Samples)
	}
	if res.SampleRate != 44100 {
		t.Fatalf("expected model sample rate, got %d", res.SampleRate)
	}
	eng.ReleaseTransientBuffers()

	if _, err := h.Synthesize(ctx, SynthRequest{Text: "hi", Lang: "xx", Style: style}); err == nil {
		t.Fatal("expected invalid language error")
	}
	if _, err := h.Synthesize(ctx, SynthRequest{Text: "  ", Lang: "en", Style: style}); err == nil {
		t.Fatal("expected empty text error")
	}

	for _, cmd := range []string{failing, reporting} {
		eng, err := NewExec("sh " + cmd)
		if err != nil {
			t.Fatal(err)
		}
		h, err := eng.Initialize(ctx, dir, false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := h.Synthesize(ctx, SynthRequest{Text: "hi", Lang: "en", Style: style}); err == nil {
			t.Fatalf("%s: expected error", filepath.Base(cmd))
		}
	}
}
