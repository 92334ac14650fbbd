package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRenderWAVHeader(t *testing.T) {
	pcm := Quantize([]float32{0, 0.5, -0.5, 1})
	data, err := RenderWAV(pcm, 44100)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("wav too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 44100 {
		t.Fatalf("sample rate = %d", rate)
	}
	if !bytes.HasSuffix(data, pcm) {
		t.Fatal("pcm payload not at end of file")
	}
}

func TestRenderWAVRejectsOddPayload(t *testing.T) {
	if _, err := RenderWAV([]byte{1, 2, 3}, 44100); err == nil {
		t.Fatal("expected alignment error")
	}
}

func TestRenderWAVRejectsBadRate(t *testing.T) {
	if _, err := RenderWAV([]byte{1, 2}, 0); err == nil {
		t.Fatal("expected sample rate error")
	}
}
