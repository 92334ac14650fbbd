package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/mattn/go-shellwords"
)

// ConfigFile is the model descriptor expected inside the model directory.
const ConfigFile = "tts.json"

// Languages accepted by the synthesis backend.
var Languages = []string{"en", "ko", "es", "pt", "fr"}

type execEngine struct {
	cmd []string
	mu  sync.Mutex

	// scratch reused across calls until ReleaseTransientBuffers
	stdout bytes.Buffer
	stderr bytes.Buffer
	pcm    []byte
}

type execHandle struct {
	engine     *execEngine
	modelDir   string
	useGPU     bool
	sampleRate uint32
}

type modelConfig struct {
	AE struct {
		SampleRate uint32 `json:"sample_rate"`
	} `json:"ae"`
}

type execRequest struct {
	ModelDir  string  `json:"model_dir"`
	UseGPU    bool    `json:"use_gpu"`
	Text      string  `json:"text"`
	Lang      string  `json:"lang"`
	TotalStep int     `json:"total_step"`
	Speed     float32 `json:"speed"`
	Style     Style   `json:"style"`
}

type execResponse struct {
	SamplesBase64 string `json:"samples_base64"`
	SampleRate    uint32 `json:"sample_rate"`
	Error         string `json:"error"`
}

// NewExec returns an Engine that runs command once per synthesis. The command
// reads one JSON request on stdin and prints one JSON response carrying
// little-endian float32 samples in base64.
func NewExec(command string) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	return &execEngine{cmd: args}, nil
}

func (e *execEngine) Initialize(_ context.Context, modelDir string, useGPU bool) (Handle, error) {
	info, err := os.Stat(modelDir)
	if err != nil {
		return nil, fmt.Errorf("model directory %s: %w", modelDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model directory %s is not a directory", modelDir)
	}
	data, err := os.ReadFile(filepath.Join(modelDir, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg modelConfig
	if err := sonic.ConfigStd.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if cfg.AE.SampleRate == 0 {
		return nil, fmt.Errorf("model config %s: ae.sample_rate missing", ConfigFile)
	}
	return &execHandle{engine: e, modelDir: modelDir, useGPU: useGPU, sampleRate: cfg.AE.SampleRate}, nil
}

func (e *execEngine) LoadVoiceStyle(_ context.Context, paths []string, _ bool) (Style, error) {
	return ReadVoiceStyles(paths)
}

func (e *execEngine) ReleaseTransientBuffers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stdout = bytes.Buffer{}
	e.stderr = bytes.Buffer{}
	e.pcm = nil
}

func (h *execHandle) SampleRate() uint32 { return h.sampleRate }

func (h *execHandle) Synthesize(ctx context.Context, req SynthRequest) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, fmt.Errorf("text is empty")
	}
	if !slices.Contains(Languages, req.Lang) {
		return Result{}, fmt.Errorf("invalid language %q, available: %s", req.Lang, strings.Join(Languages, ", "))
	}
	if req.Style.Batch() == 0 {
		return Result{}, fmt.Errorf("voice style is empty")
	}
	payload, err := sonic.ConfigStd.Marshal(execRequest{
		ModelDir:  h.modelDir,
		UseGPU:    h.useGPU,
		Text:      req.Text,
		Lang:      req.Lang,
		TotalStep: req.TotalStep,
		Speed:     req.Speed,
		Style:     req.Style,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode engine request: %w", err)
	}

	e := h.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stdout.Reset()
	e.stderr.Reset()

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &e.stdout
	cmd.Stderr = &e.stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("engine command failed: %w: %s", err, strings.TrimSpace(e.stderr.String()))
	}

	var resp execResponse
	if err := sonic.ConfigStd.Unmarshal(e.stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode engine response: %w", err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("engine: %s", resp.Error)
	}
	need := base64.StdEncoding.DecodedLen(len(resp.SamplesBase64))
	if cap(e.pcm) < need {
		e.pcm = make([]byte, need)
	}
	n, err := base64.StdEncoding.Decode(e.pcm[:need], []byte(resp.SamplesBase64))
	if err != nil {
		return Result{}, fmt.Errorf("decode engine samples: %w", err)
	}
	if n%4 != 0 {
		return Result{}, fmt.Errorf("engine samples not aligned: %d bytes", n)
	}

	samples := make([]float32, n/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(e.pcm[i*4:]))
	}
	rate := resp.SampleRate
	if rate == 0 {
		rate = h.sampleRate
	}
	return Result{Samples: samples, SampleRate: rate}, nil
}
