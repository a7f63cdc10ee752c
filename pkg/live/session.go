package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of the engine.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateActive
	StateClosing
	StateError
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config configures the engine.
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
	APIKey            string
	Endpoint          string
	CaptureSampleRate int
	CaptureQueueSize  int
	EventBuffer       int
}

// DefaultConfig returns the standard configuration.
func DefaultConfig() Config {
	return Config{
		CaptureSampleRate: CaptureSampleRate,
		CaptureQueueSize:  defaultCaptureQueue,
		EventBuffer:       256,
	}
}

// sessionChannel is the engine's view of the model channel.
type sessionChannel interface {
	Events() <-chan ChannelEvent
	SendAudio(EncodedBlob) error
	SendToolResponse(ToolResponse) error
	Close() error
}

// captureSource is the engine's view of the microphone.
type captureSource interface {
	Frames() <-chan *AudioFrame
	Dropped() int64
	Close() error
}

// Engine orchestrates one voice session at a time: microphone frames flow up
// the channel, synthesized speech flows down into the playback scheduler,
// tool calls route through the dispatcher, and the whole thing moves through
// Idle → Connecting → Active → Closing → Idle. Restartable after Stop.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	tools *Dispatcher
	decls []FunctionDeclaration

	// Factories, substituted by tests.
	connect     func(ctx context.Context, cfg ChannelConfig, logger *slog.Logger) (sessionChannel, error)
	openCapture func(cfg CaptureConfig, logger *slog.Logger) (captureSource, error)
	newSink     func() (Sink, error)
	clock       Clock

	events chan Event

	mu         sync.Mutex
	state      SessionState
	startGen   uint64
	sessionID  string
	channel    sessionChannel
	capture    captureSource
	sched      *Scheduler
	cancel     context.CancelFunc
	sessionCtx context.Context
	record     CollectedRecord
	hasRecord  bool

	active          atomic.Bool
	released        atomic.Bool
	finalizePending atomic.Bool
}

// NewEngine creates an idle engine.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = CaptureSampleRate
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}

	e := &Engine{
		cfg:    cfg,
		log:    logger.With("component", "session"),
		tools:  NewDispatcher(logger),
		events: make(chan Event, cfg.EventBuffer),
	}
	e.connect = func(ctx context.Context, ccfg ChannelConfig, l *slog.Logger) (sessionChannel, error) {
		return Connect(ctx, ccfg, l)
	}
	e.openCapture = func(ccfg CaptureConfig, l *slog.Logger) (captureSource, error) {
		return OpenCapture(ccfg, l)
	}
	e.newSink = func() (Sink, error) {
		return NewSpeaker(PlaybackSampleRate, AudioChannels)
	}
	return e
}

// RegisterTool advertises a tool to the model and binds its handler.
// Declaration order is preserved in the setup frame.
func (e *Engine) RegisterTool(decl FunctionDeclaration, h ToolHandler) {
	e.mu.Lock()
	e.decls = append(e.decls, decl)
	e.mu.Unlock()
	e.tools.Register(decl.Name, h)
}

// Events returns the engine's event stream. The stream spans sessions and is
// never closed; slow consumers lose events rather than stalling the engine.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the current lifecycle state.
func (e *Engine) State() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the id of the current or most recent session.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Start acquires the microphone, establishes the channel and begins the
// session. A session already in flight is stopped first. On failure every
// partially acquired resource is released and the engine returns to Idle
// with the error describing which stage failed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		e.Stop()
		e.mu.Lock()
	}
	e.startGen++
	gen := e.startGen
	e.sessionID = uuid.NewString()
	e.record = nil
	e.hasRecord = false
	e.finalizePending.Store(false)
	e.released.Store(false)
	e.sessionCtx, e.cancel = context.WithCancel(context.Background())
	decls := make([]FunctionDeclaration, len(e.decls))
	copy(decls, e.decls)
	e.setStateLocked(StateConnecting)
	e.mu.Unlock()

	capture, err := e.openCapture(CaptureConfig{
		SampleRate: e.cfg.CaptureSampleRate,
		QueueSize:  e.cfg.CaptureQueueSize,
		OnLevel:    e.onCaptureLevel,
	}, e.log)
	if err != nil {
		return e.failStart(err)
	}

	channel, err := e.connect(ctx, ChannelConfig{
		Endpoint:          e.cfg.Endpoint,
		APIKey:            e.cfg.APIKey,
		Model:             e.cfg.Model,
		Voice:             e.cfg.Voice,
		SystemInstruction: e.cfg.SystemInstruction,
		Tools:             decls,
	}, e.log)
	if err != nil {
		capture.Close()
		return e.failStart(err)
	}

	sink, err := e.newSink()
	if err != nil {
		capture.Close()
		channel.Close()
		return e.failStart(err)
	}

	e.mu.Lock()
	// A Stop() (or a competing Start) may have torn the session down while
	// resources were still being acquired. Going Active now would resurrect
	// a session the caller already ended and strand these resources past
	// the spent release latch, so close them here and stay down instead.
	if e.state != StateConnecting || gen != e.startGen {
		id := e.sessionID
		e.mu.Unlock()
		capture.Close()
		sink.Close()
		channel.Close()
		e.log.Info("session stopped before becoming active", "session_id", id)
		return NewError(ErrChannel, "session stopped while starting")
	}
	e.capture = capture
	e.channel = channel
	e.sched = NewScheduler(sink, e.clock, e.log)
	e.active.Store(true)
	e.setStateLocked(StateActive)
	id := e.sessionID
	e.mu.Unlock()

	e.emit(&SessionStartedEvent{SessionID: id, Model: e.cfg.Model})
	e.log.Info("session started", "session_id", id, "model", e.cfg.Model)

	go e.sendLoop(capture, channel)
	go e.receiveLoop(channel)
	return nil
}

// failStart surfaces a startup failure: briefly Error, then back to Idle.
func (e *Engine) failStart(err error) error {
	typ := ErrChannel
	var le *Error
	if errors.As(err, &le) {
		typ = le.Type
	}

	e.mu.Lock()
	e.setStateLocked(StateError)
	e.mu.Unlock()
	e.emit(&SessionErrorEvent{Type: typ, Message: err.Error()})
	e.log.Error("session start failed", "error", err)

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
	return err
}

// Stop ends the session and releases resources. Idempotent; safe to call in
// any state.
func (e *Engine) Stop() error {
	e.teardown(StateClosing, "stopped", nil)
	return nil
}

// Finalize records the terminal intake payload. At most one record per
// session; the session winds down once the terminal tool's response has been
// delivered.
func (e *Engine) Finalize(rec CollectedRecord) error {
	e.mu.Lock()
	if e.hasRecord {
		e.mu.Unlock()
		return NewValidationError("record already finalized")
	}
	e.record = rec.Clone()
	e.hasRecord = true
	e.mu.Unlock()

	e.finalizePending.Store(true)
	e.emit(&RecordFinalizedEvent{Record: rec.Clone()})
	return nil
}

// Result returns the finalized record, if any. Valid after the session has
// returned to Idle.
func (e *Engine) Result() (CollectedRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasRecord {
		return nil, false
	}
	return e.record.Clone(), true
}

// onCaptureLevel runs on the device thread; emit never blocks.
func (e *Engine) onCaptureLevel(rms float64) {
	if e.active.Load() {
		e.emit(&AudioLevelEvent{RMS: rms})
	}
}

// sendLoop pumps captured frames upstream until the capture stream closes.
func (e *Engine) sendLoop(capture captureSource, channel sessionChannel) {
	for frame := range capture.Frames() {
		if !e.active.Load() {
			continue
		}
		if err := channel.SendAudio(EncodeFrame(frame)); err != nil {
			e.log.Debug("upstream audio send failed", "error", err)
		}
	}
}

// receiveLoop drains the channel's event stream until it closes.
func (e *Engine) receiveLoop(channel sessionChannel) {
	for ev := range channel.Events() {
		switch ev := ev.(type) {
		case *AudioEvent:
			e.handleAudio(ev.Blob)
		case *InterruptedEvent:
			e.handleInterrupt()
		case *ToolCallEvent:
			e.handleToolCalls(channel, ev.Calls)
		case *ToolCallCancelledEvent:
			// In-flight handlers run to completion; the server discards
			// responses for withdrawn ids.
			e.log.Info("tool calls cancelled by server", "ids", ev.IDs)
		case *TurnCompleteEvent:
			e.log.Debug("model turn complete")
		case *ClosedEvent:
			e.teardown(StateClosing, ev.Reason, nil)
		case *ChannelErrorEvent:
			e.teardown(StateError, "channel failed", ev.Err)
		}
	}
}

// handleAudio decodes one inbound chunk and schedules it. Decode failures
// are logged and skipped; the session stays healthy.
func (e *Engine) handleAudio(blob EncodedBlob) {
	if !e.active.Load() {
		return
	}
	frame, err := DecodeBlob(blob.Data, blob.SampleRate, AudioChannels)
	if err != nil {
		e.log.Warn("skipping undecodable audio chunk", "error", err)
		return
	}

	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil || !e.active.Load() {
		return
	}
	sched.Schedule(frame, nil)
}

// handleInterrupt implements barge-in: everything queued or audible is
// cancelled immediately.
func (e *Engine) handleInterrupt() {
	e.mu.Lock()
	sched := e.sched
	e.mu.Unlock()
	if sched == nil {
		return
	}
	n := sched.Interrupt()
	e.log.Debug("playback interrupted", "cancelled", n)
	e.emit(&PlaybackInterruptedEvent{Cancelled: n})
}

// handleToolCalls dispatches a batch off the receive loop so slow handlers
// never stall inbound audio. After the batch completes, a pending terminal
// finalize winds the session down.
func (e *Engine) handleToolCalls(channel sessionChannel, calls []ToolCall) {
	for _, call := range calls {
		e.emit(&ToolCallStartedEvent{ID: call.ID, Name: call.Name})
	}

	e.mu.Lock()
	ctx := e.sessionCtx
	e.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		e.tools.Dispatch(ctx, calls, func(resp ToolResponse) {
			_, isErr := resp.Result["error"]
			if err := channel.SendToolResponse(resp); err != nil {
				e.log.Warn("tool response send failed", "tool", resp.Name, "error", err)
			}
			e.emit(&ToolResultEvent{ID: resp.ID, Name: resp.Name, IsError: isErr})
		})
		if e.finalizePending.Swap(false) {
			e.teardown(StateClosing, "record finalized", nil)
		}
	}()
}

// teardown drives the session back to Idle through `via` (Closing for
// orderly paths, Error for failures), releasing resources exactly once.
// Concurrent callers collapse onto the first.
func (e *Engine) teardown(via SessionState, reason string, cause error) {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateClosing || e.state == StateError {
		e.mu.Unlock()
		return
	}
	e.setStateLocked(via)
	id := e.sessionID
	e.mu.Unlock()

	e.active.Store(false)
	e.release()

	if cause != nil {
		typ := ErrChannel
		var le *Error
		if errors.As(cause, &le) {
			typ = le.Type
		}
		e.emit(&SessionErrorEvent{Type: typ, Message: cause.Error()})
		e.log.Error("session failed", "session_id", id, "error", cause)
	}

	e.mu.Lock()
	e.setStateLocked(StateIdle)
	e.mu.Unlock()

	e.emit(&SessionClosedEvent{SessionID: id, Reason: reason})
	e.log.Info("session closed", "session_id", id, "reason", reason)
}

// release frees the session's resources exactly once: capture first so no
// new upstream audio is produced, then playback, then the channel.
func (e *Engine) release() {
	if e.released.Swap(true) {
		return
	}

	e.mu.Lock()
	capture := e.capture
	sched := e.sched
	channel := e.channel
	cancel := e.cancel
	e.capture = nil
	e.sched = nil
	e.channel = nil
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			e.log.Warn("capture close failed", "error", err)
		}
		if n := capture.Dropped(); n > 0 {
			e.log.Info("capture frames dropped during session", "count", n)
		}
	}
	if sched != nil {
		if err := sched.Close(); err != nil {
			e.log.Warn("playback close failed", "error", err)
		}
	}
	if channel != nil {
		if err := channel.Close(); err != nil {
			e.log.Warn("channel close failed", "error", err)
		}
	}
}

// setStateLocked transitions the state machine; callers hold e.mu.
func (e *Engine) setStateLocked(to SessionState) {
	if e.state == to {
		return
	}
	from := e.state
	e.state = to
	e.emit(&StateChangedEvent{From: from, To: to})
}

// emit delivers an event without ever blocking; full buffers drop.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}
