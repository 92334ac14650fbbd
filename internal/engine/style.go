package engine

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/bytedance/sonic"
)

// MaxStyleFileBytes bounds the size of a voice style file.
const MaxStyleFileBytes = 16 << 20

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	Dims []int64   `json:"dims"`
	Data []float32 `json:"data"`
}

// Len is the element count implied by Dims, or -1 when a dimension is not
// positive or the product does not fit in an int.
func (t Tensor) Len() int {
	if len(t.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Dims {
		if d <= 0 || int64(n) > math.MaxInt/d {
			return -1
		}
		n *= int(d)
	}
	return n
}

// Style is a batch of voice style embeddings, one row per loaded file.
type Style struct {
	TTL   Tensor   `json:"ttl"`
	DP    Tensor   `json:"dp"`
	Paths []string `json:"-"`
}

// Batch is the number of styles in the batch.
func (s Style) Batch() int {
	if len(s.TTL.Dims) == 0 {
		return 0
	}
	return int(s.TTL.Dims[0])
}

type styleFile struct {
	TTL *tensorFile `json:"style_ttl"`
	DP  *tensorFile `json:"style_dp"`
}

type tensorFile struct {
	Dims []int64 `json:"dims"`
	Data any     `json:"data"`
}

// ReadVoiceStyles loads and batches style files. Every file must describe a
// single style with the same dimensions as the first one.
func ReadVoiceStyles(paths []string) (Style, error) {
	if len(paths) == 0 {
		return Style{}, fmt.Errorf("no voice style paths given")
	}
	var style Style
	for i, path := range paths {
		ttl, dp, err := readStyleFile(path)
		if err != nil {
			return Style{}, err
		}
		if i == 0 {
			style.TTL = Tensor{Dims: append([]int64{int64(len(paths))}, ttl.Dims[1:]...)}
			style.DP = Tensor{Dims: append([]int64{int64(len(paths))}, dp.Dims[1:]...)}
			// sized from the data actually read, never from the declared dims
			style.TTL.Data = make([]float32, 0, len(ttl.Data)*len(paths))
			style.DP.Data = make([]float32, 0, len(dp.Data)*len(paths))
		} else if !slices.Equal(style.TTL.Dims[1:], ttl.Dims[1:]) || !slices.Equal(style.DP.Dims[1:], dp.Dims[1:]) {
			return Style{}, fmt.Errorf("voice style %s: dimensions differ from %s", path, paths[0])
		}
		style.TTL.Data = append(style.TTL.Data, ttl.Data...)
		style.DP.Data = append(style.DP.Data, dp.Data...)
	}
	style.Paths = append([]string(nil), paths...)
	return style, nil
}

func readStyleFile(path string) (Tensor, Tensor, error) {
	data, err := readLimited(path, MaxStyleFileBytes)
	if err != nil {
		return Tensor{}, Tensor{}, err
	}
	var raw styleFile
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		// the decoder error quotes file content, which must not reach callers
		return Tensor{}, Tensor{}, fmt.Errorf("parse voice style %s: not a valid style JSON file", path)
	}
	if raw.TTL == nil || raw.DP == nil {
		return Tensor{}, Tensor{}, fmt.Errorf("voice style %s: style_ttl and style_dp are required", path)
	}
	ttl, err := raw.TTL.tensor()
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("voice style %s: style_ttl: %w", path, err)
	}
	dp, err := raw.DP.tensor()
	if err != nil {
		return Tensor{}, Tensor{}, fmt.Errorf("voice style %s: style_dp: %w", path, err)
	}
	return ttl, dp, nil
}

func readLimited(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read voice style: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("read voice style: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("voice style %s is not a regular file", path)
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read voice style: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("voice style %s exceeds %d bytes", path, limit)
	}
	return data, nil
}

func (f *tensorFile) tensor() (Tensor, error) {
	if len(f.Dims) < 2 {
		return Tensor{}, fmt.Errorf("expected at least 2 dims, got %v", f.Dims)
	}
	if f.Dims[0] != 1 {
		return Tensor{}, fmt.Errorf("expected batch dimension 1, got %d", f.Dims[0])
	}
	for _, d := range f.Dims {
		if d <= 0 {
			return Tensor{}, fmt.Errorf("invalid dims %v", f.Dims)
		}
	}
	flat, err := flatten(f.Data, nil)
	if err != nil {
		return Tensor{}, err
	}
	t := Tensor{Dims: f.Dims}
	n := t.Len()
	if n < 0 {
		return Tensor{}, fmt.Errorf("dims %v are too large", f.Dims)
	}
	if len(flat) != n {
		return Tensor{}, fmt.Errorf("dims %v need %d values, got %d", f.Dims, n, len(flat))
	}
	t.Data = flat
	return t, nil
}

func flatten(v any, out []float32) ([]float32, error) {
	switch x := v.(type) {
	case float64:
		return append(out, float32(x)), nil
	case []any:
		var err error
		for _, item := range x {
			if out, err = flatten(item, out); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected value of type %T in data", v)
	}
}
