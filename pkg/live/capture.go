package live

import (
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	defaultFrameDuration = 20 * time.Millisecond
	defaultCaptureQueue  = 64
	dropLogEvery         = 50
)

// CaptureConfig configures the microphone source.
type CaptureConfig struct {
	SampleRate    int           // default 16000
	FrameDuration time.Duration // default 20ms
	QueueSize     int           // default 64 frames
	// OnLevel, if set, receives the RMS level of every emitted frame.
	// Called from the device callback; must not block.
	OnLevel func(rms float64)
}

func (c *CaptureConfig) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = CaptureSampleRate
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = defaultFrameDuration
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultCaptureQueue
	}
}

// Capture owns the microphone device and emits fixed-duration frames on a
// bounded queue. When the consumer falls behind, the oldest frame is dropped
// so the device callback never blocks.
type Capture struct {
	cfg     CaptureConfig
	log     *slog.Logger
	mctx    *malgo.AllocatedContext
	device  *malgo.Device
	framer  *frameAssembler
	frames  chan *AudioFrame
	dropped atomic.Int64
	closed  atomic.Bool
	closeMu sync.Mutex
}

// OpenCapture opens and starts the default microphone. Failures to reach the
// device map onto the permission/availability taxonomy.
func OpenCapture(cfg CaptureConfig, logger *slog.Logger) (*Capture, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{
		ThreadPriority: malgo.ThreadPriorityRealtime,
	}, nil)
	if err != nil {
		return nil, classifyDeviceError("audio context init failed", err)
	}

	c := &Capture{
		cfg:    cfg,
		log:    logger.With("component", "capture"),
		mctx:   mctx,
		framer: newFrameAssembler(cfg.SampleRate, cfg.FrameDuration),
		frames: make(chan *AudioFrame, cfg.QueueSize),
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = AudioChannels
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.FrameDuration.Milliseconds())

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			c.onData(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		mctx.Uninit()
		return nil, classifyDeviceError("microphone init failed", err)
	}
	c.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, classifyDeviceError("microphone start failed", err)
	}

	c.log.Debug("capture started", "sample_rate", cfg.SampleRate,
		"frame_ms", cfg.FrameDuration.Milliseconds(), "queue", cfg.QueueSize)
	return c, nil
}

// onData runs on the device thread: assemble whole frames and hand them off
// without ever blocking.
func (c *Capture) onData(input []byte) {
	if c.closed.Load() {
		return
	}
	for _, chunk := range c.framer.cut(input) {
		if c.cfg.OnLevel != nil {
			c.cfg.OnLevel(CalculateRMSEnergy(chunk))
		}
		frame := &AudioFrame{
			Samples:    pcm16Samples(chunk),
			SampleRate: c.cfg.SampleRate,
		}
		if !enqueueFrame(c.frames, frame) {
			n := c.dropped.Add(1)
			if n%dropLogEvery == 1 {
				c.log.Warn("capture queue full, dropping oldest frames", "dropped_total", n)
			}
		}
	}
}

// Frames returns the capture stream. Closed by Close.
func (c *Capture) Frames() <-chan *AudioFrame {
	return c.frames
}

// Dropped returns how many frames were discarded under backpressure.
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// Close stops the device and closes the frame stream. Idempotent.
func (c *Capture) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
	}
	if c.mctx != nil {
		c.mctx.Uninit()
	}
	close(c.frames)
	return nil
}

// enqueueFrame pushes a frame with drop-oldest semantics. Returns false when
// an older frame had to be discarded to make room.
func enqueueFrame(ch chan *AudioFrame, f *AudioFrame) bool {
	select {
	case ch <- f:
		return true
	default:
	}
	// Queue full: evict the oldest frame, then retry once.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- f:
	default:
	}
	return false
}

// frameAssembler cuts an arbitrary byte stream of PCM16LE into fixed-length
// chunks, carrying partial data across pushes.
type frameAssembler struct {
	frameBytes int
	pending    []byte
}

func newFrameAssembler(sampleRate int, frameDuration time.Duration) *frameAssembler {
	cfg := AudioConfig{SampleRate: sampleRate, Channels: AudioChannels}
	return &frameAssembler{
		frameBytes: cfg.BytesForDuration(frameDuration),
	}
}

func (a *frameAssembler) cut(data []byte) [][]byte {
	a.pending = append(a.pending, data...)

	var chunks [][]byte
	for len(a.pending) >= a.frameBytes {
		chunk := make([]byte, a.frameBytes)
		copy(chunk, a.pending[:a.frameBytes])
		chunks = append(chunks, chunk)
		a.pending = a.pending[a.frameBytes:]
	}
	return chunks
}

// classifyDeviceError maps a device-layer failure onto the taxonomy: access
// failures become permission errors, everything else device unavailability.
func classifyDeviceError(message string, err error) *Error {
	text := strings.ToLower(err.Error())
	if strings.Contains(text, "access denied") || strings.Contains(text, "permission") {
		return NewPermissionDeniedError(message, err)
	}
	return WrapError(ErrDeviceUnavailable, message, err)
}
