package live

import (
	"math"
	"time"
)

// Audio format constants. Upstream microphone audio is 16 kHz mono PCM16LE;
// downstream synthesized speech arrives at 24 kHz mono PCM16LE.
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	AudioChannels      = 1
	BytesPerSample     = 2
)

// AudioConfig describes a PCM16LE stream.
type AudioConfig struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the raw byte rate of the stream.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * BytesPerSample
}

// BytesForDuration returns how many bytes cover d of audio.
func (c AudioConfig) BytesForDuration(d time.Duration) int {
	n := int(d.Milliseconds()) * c.BytesPerSecond() / 1000
	// Round down to a whole sample boundary.
	return n - n%(c.Channels*BytesPerSample)
}

// Duration returns how long n bytes of audio last.
func (c AudioConfig) Duration(n int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is 16-bit signed little-endian PCM. Returns a value in [0, 1].
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}
