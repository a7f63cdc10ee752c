package live

import (
	"encoding/base64"
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestCodec_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float32, 320) // 20ms at 16kHz
	for i := range samples {
		samples[i] = rng.Float32()*2 - 1
	}
	in := &AudioFrame{Samples: samples, SampleRate: CaptureSampleRate}

	blob := EncodeFrame(in)
	out, err := DecodeBlob(blob.Data, blob.SampleRate, AudioChannels)
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}

	if out.SampleRate != in.SampleRate {
		t.Errorf("sample rate = %d, want %d", out.SampleRate, in.SampleRate)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("sample count = %d, want %d", len(out.Samples), len(in.Samples))
	}

	const tol = 1.0 / 32767
	for i := range in.Samples {
		diff := math.Abs(float64(out.Samples[i] - in.Samples[i]))
		if diff > tol {
			t.Fatalf("sample %d: |%v - %v| = %v exceeds one quantization level",
				i, out.Samples[i], in.Samples[i], diff)
		}
	}
}

func TestCodec_Deterministic(t *testing.T) {
	samples := []float32{0, 0.25, -0.5, 0.999, -0.999}
	f := &AudioFrame{Samples: samples, SampleRate: CaptureSampleRate}

	a := EncodeFrame(f)
	b := EncodeFrame(f)
	if a != b {
		t.Errorf("EncodeFrame not deterministic: %q vs %q", a.Data, b.Data)
	}
}

func TestCodec_ClampsOutOfRange(t *testing.T) {
	f := &AudioFrame{Samples: []float32{2.0, -3.0}, SampleRate: CaptureSampleRate}
	blob := EncodeFrame(f)

	out, err := DecodeBlob(blob.Data, blob.SampleRate, AudioChannels)
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if out.Samples[0] != 1 || out.Samples[1] != -1 {
		t.Errorf("clamped samples = %v, want [1 -1]", out.Samples)
	}
}

func TestDecodeBlob_Errors(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte{0x00, 0x10, 0x00, 0x20})

	tests := []struct {
		name     string
		data     string
		rate     int
		channels int
	}{
		{"invalid base64", "not base64!!", PlaybackSampleRate, 1},
		{"odd byte length", base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), PlaybackSampleRate, 1},
		{"stereo rejected", valid, PlaybackSampleRate, 2},
		{"zero rate", valid, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBlob(tt.data, tt.rate, tt.channels)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !IsType(err, ErrDecode) {
				t.Errorf("error type = %v, want %s", err, ErrDecode)
			}
		})
	}
}

func TestAudioFrame_Duration(t *testing.T) {
	f := &AudioFrame{Samples: make([]float32, 480), SampleRate: PlaybackSampleRate}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration() = %v, want 20ms", got)
	}
}

func TestAudioFrame_RMS(t *testing.T) {
	silent := &AudioFrame{Samples: make([]float32, 100), SampleRate: CaptureSampleRate}
	if got := silent.RMS(); got != 0 {
		t.Errorf("silent RMS = %v, want 0", got)
	}

	full := &AudioFrame{Samples: []float32{1, -1, 1, -1}, SampleRate: CaptureSampleRate}
	if got := full.RMS(); math.Abs(got-1) > 1e-9 {
		t.Errorf("full-scale RMS = %v, want 1", got)
	}
}
