package live

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

// AudioFrame is a decoded chunk of mono audio: normalized float32 samples in
// [-1, 1] plus the sample rate they were captured or synthesized at.
type AudioFrame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the wall-clock length of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// RMS computes the root-mean-square level of the frame, in [0, 1].
func (f *AudioFrame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(f.Samples)))
}

// EncodedBlob is the transport form of one audio chunk: standard base64 of
// little-endian 16-bit PCM, tagged with its sample rate.
type EncodedBlob struct {
	Data       string
	SampleRate int
}

// EncodeFrame converts a frame to its transport form. Samples outside [-1, 1]
// are clamped before quantization. Deterministic for identical input.
func EncodeFrame(f *AudioFrame) EncodedBlob {
	return EncodedBlob{
		Data:       base64.StdEncoding.EncodeToString(pcm16Bytes(f.Samples)),
		SampleRate: f.SampleRate,
	}
}

// DecodeBlob converts a transport blob back to a frame. Only mono input is
// accepted. Invalid base64 or a payload that is not a whole number of
// samples yields a decode error; callers treat that as a recoverable skip.
func DecodeBlob(data string, sampleRate, channels int) (*AudioFrame, error) {
	if channels != AudioChannels {
		return nil, NewDecodeError(fmt.Sprintf("unsupported channel count %d", channels))
	}
	if sampleRate <= 0 {
		return nil, NewDecodeError(fmt.Sprintf("invalid sample rate %d", sampleRate))
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, WrapError(ErrDecode, "invalid base64 payload", err)
	}
	if len(raw)%BytesPerSample != 0 {
		return nil, NewDecodeError(fmt.Sprintf("odd payload length %d", len(raw)))
	}

	return &AudioFrame{
		Samples:    pcm16Samples(raw),
		SampleRate: sampleRate,
	}, nil
}

// pcm16Bytes quantizes normalized samples to little-endian int16.
func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// pcm16Samples expands little-endian int16 PCM to normalized float32.
func pcm16Samples(raw []byte) []float32 {
	samples := make([]float32, len(raw)/BytesPerSample)
	for i := range samples {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		samples[i] = float32(v) / 32767.0
	}
	return samples
}
