package audio_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestFrameBytes(t *testing.T) {
	if got := audio.FrameBytes(512); got != 1024 {
		t.Errorf("FrameBytes(512) = %d, want 1024", got)
	}
}

func TestDuration(t *testing.T) {
	pcm := make([]byte, 32000) // 16000 samples
	if got := audio.Duration(pcm, 16000); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := audio.Duration(pcm, 0); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

func TestToFloat32(t *testing.T) {
	got := audio.ToFloat32(samplesToBytes([]int16{0, 16384, -32768, 32767}))
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(audio.ToFloat32([]byte{1, 2, 3})); n != 1 {
		t.Errorf("odd input produced %d samples, want 1", n)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		pcm  []byte
		want float64
	}{
		{"empty", nil, 0},
		{"silence", samplesToBytes([]int16{0, 0, 0, 0}), 0},
		{"constant", samplesToBytes([]int16{1000, -1000, 1000, -1000}), 1000},
		{"mixed", samplesToBytes([]int16{3, 4}), math.Sqrt(12.5)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.RMS(tc.pcm); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeWAV(t *testing.T) {
	pcm := samplesToBytes([]int16{1, 2, 3, 4, 5})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Errorf("bad RIFF header: %q", wav[:12])
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}

	got, rate, ok := audio.DecodeWAV(wav)
	if !ok {
		t.Fatal("DecodeWAV rejected EncodeWAV output")
	}
	if rate != 16000 || !bytes.Equal(got, pcm) {
		t.Errorf("DecodeWAV = (%v, %d), want (%v, 16000)", got, rate, pcm)
	}
	if _, _, ok := audio.DecodeWAV([]byte("not a wav")); ok {
		t.Error("DecodeWAV accepted garbage")
	}
}

func TestResampleMono16(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300, 400})

	if out := audio.ResampleMono16(pcm, 16000, 16000); !bytes.Equal(out, pcm) {
		t.Error("same-rate resample changed the input")
	}
	down := audio.ResampleMono16(pcm, 32000, 16000)
	if len(down) != 4 {
		t.Fatalf("downsampled len = %d, want 4", len(down))
	}
	if s := int16(binary.LittleEndian.Uint16(down[2:])); s != 300 {
		t.Errorf("downsampled[1] = %d, want 300", s)
	}
	up := audio.ResampleMono16(pcm, 8000, 16000)
	if len(up) != 16 {
		t.Errorf("upsampled len = %d, want 16", len(up))
	}
}
