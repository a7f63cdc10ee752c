package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultEndpoint is the bidirectional generate-content websocket endpoint.
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultHandshakeTimeout = 15 * time.Second
	maxInboundMessageBytes  = 16 * 1024 * 1024
	channelEventBuffer      = 256
)

// ChannelConfig describes one channel establishment.
type ChannelConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []FunctionDeclaration
	HandshakeTimeout  time.Duration
}

// ChannelEvent is one ordered occurrence on the session channel. Concrete
// types: *AudioEvent, *ToolCallEvent, *InterruptedEvent, *TurnCompleteEvent,
// *ToolCallCancelledEvent, *ClosedEvent, *ChannelErrorEvent.
type ChannelEvent interface {
	channelEvent()
}

// AudioEvent carries one inbound synthesized-speech chunk.
type AudioEvent struct {
	Blob EncodedBlob
}

// ToolCallEvent carries a batch of tool invocation requests.
type ToolCallEvent struct {
	Calls []ToolCall
}

// InterruptedEvent signals the user spoke over in-flight playback.
type InterruptedEvent struct{}

// TurnCompleteEvent signals the model finished its current turn.
type TurnCompleteEvent struct{}

// ToolCallCancelledEvent carries ids of calls the server withdrew.
type ToolCallCancelledEvent struct {
	IDs []string
}

// ClosedEvent signals graceful channel termination.
type ClosedEvent struct {
	Reason string
}

// ChannelErrorEvent signals abnormal channel termination.
type ChannelErrorEvent struct {
	Err error
}

func (*AudioEvent) channelEvent()             {}
func (*ToolCallEvent) channelEvent()          {}
func (*InterruptedEvent) channelEvent()       {}
func (*TurnCompleteEvent) channelEvent()      {}
func (*ToolCallCancelledEvent) channelEvent() {}
func (*ClosedEvent) channelEvent()            {}
func (*ChannelErrorEvent) channelEvent()      {}

// ToolCall is one server-requested tool invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse is the result returned for one ToolCall.
type ToolResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// Channel is a live websocket session with the model. It owns the socket:
// one writer goroutine discipline is enforced with a write mutex, and one
// internal receive loop converts wire frames into ordered ChannelEvents.
type Channel struct {
	conn    *websocket.Conn
	log     *slog.Logger
	outRate int

	writeMu sync.Mutex
	closed  atomic.Bool
	events  chan ChannelEvent
}

// Connect dials the endpoint, performs the setup handshake and starts the
// receive loop. Any failure before the handshake completes is a connect
// failure; nothing is left running on error.
func Connect(ctx context.Context, cfg ChannelConfig, logger *slog.Logger) (*Channel, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Model == "" {
		return nil, NewConnectFailedError("model id is required", nil)
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("x-goog-api-key", cfg.APIKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.Endpoint, header)
	if err != nil {
		return nil, NewConnectFailedError("websocket dial failed", err)
	}
	conn.SetReadLimit(maxInboundMessageBytes)

	c := &Channel{
		conn:    conn,
		log:     logger.With("component", "channel"),
		outRate: PlaybackSampleRate,
		events:  make(chan ChannelEvent, channelEventBuffer),
	}

	if err := c.handshake(cfg); err != nil {
		conn.Close()
		return nil, err
	}

	go c.receiveLoop()
	return c, nil
}

// handshake sends the setup frame and waits for setupComplete.
func (c *Channel) handshake(cfg ChannelConfig) error {
	setup := setupMessage{Setup: &setupPayload{
		Model: cfg.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}}
	if cfg.Voice != "" {
		setup.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	if len(cfg.Tools) > 0 {
		setup.Setup.Tools = []toolDeclaration{{FunctionDeclarations: cfg.Tools}}
	}

	if err := c.writeJSON(setup); err != nil {
		return NewConnectFailedError("setup send failed", err)
	}

	deadline := time.Now().Add(cfg.HandshakeTimeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return NewConnectFailedError("setting handshake deadline failed", err)
	}
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return NewConnectFailedError("waiting for setup completion failed", err)
	}
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return NewConnectFailedError("malformed setup response", err)
	}
	if msg.SetupComplete == nil {
		return NewConnectFailedError("server did not acknowledge setup", nil)
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return NewConnectFailedError("clearing handshake deadline failed", err)
	}

	c.log.Debug("channel established", "model", cfg.Model, "voice", cfg.Voice, "tools", len(cfg.Tools))
	return nil
}

// Events returns the ordered event stream. The channel is closed after a
// terminal ClosedEvent or ChannelErrorEvent.
func (c *Channel) Events() <-chan ChannelEvent {
	return c.events
}

// SendAudio ships one encoded capture chunk upstream. Fire-and-forget: the
// caller does not wait for any acknowledgement.
func (c *Channel) SendAudio(blob EncodedBlob) error {
	if c.closed.Load() {
		return NewError(ErrChannel, "channel is closed")
	}
	msg := realtimeInputMessage{RealtimeInput: &realtimeInput{
		MediaChunks: []mediaChunk{{
			MIMEType: pcmMIMEType(blob.SampleRate),
			Data:     blob.Data,
		}},
	}}
	if err := c.writeJSON(msg); err != nil {
		return WrapError(ErrChannel, "audio send failed", err)
	}
	return nil
}

// SendToolResponse returns one tool result to the model.
func (c *Channel) SendToolResponse(resp ToolResponse) error {
	if c.closed.Load() {
		return NewError(ErrChannel, "channel is closed")
	}
	msg := toolResponseMessage{ToolResponse: &toolResponsePayload{
		FunctionResponses: []functionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Result,
		}},
	}}
	if err := c.writeJSON(msg); err != nil {
		return WrapError(ErrChannel, "tool response send failed", err)
	}
	return nil
}

// Close tears the channel down. Idempotent; the first call wins.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	// Best-effort close frame so the server sees a clean shutdown.
	c.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), deadline)
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Channel) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// receiveLoop reads wire frames until the socket dies, translating each into
// events in arrival order.
func (c *Channel) receiveLoop() {
	defer close(c.events)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				c.emit(&ClosedEvent{Reason: "closed locally"})
			} else if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(&ClosedEvent{Reason: "closed by server"})
			} else {
				c.emit(&ChannelErrorEvent{Err: WrapError(ErrChannel, "read failed", err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("dropping malformed server message", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

// dispatch maps one server message onto channel events, preserving the
// server's ordering within the message.
func (c *Channel) dispatch(msg *serverMessage) {
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			c.emit(&InterruptedEvent{})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				c.emit(&AudioEvent{Blob: EncodedBlob{
					Data:       p.InlineData.Data,
					SampleRate: parsePCMRate(p.InlineData.MIMEType, c.outRate),
				}})
			}
		}
		if sc.TurnComplete {
			c.emit(&TurnCompleteEvent{})
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		c.emit(&ToolCallEvent{Calls: calls})
	}

	if cc := msg.ToolCallCancellation; cc != nil && len(cc.IDs) > 0 {
		c.emit(&ToolCallCancelledEvent{IDs: cc.IDs})
	}

	if ga := msg.GoAway; ga != nil {
		c.log.Info("server requested shutdown", "time_left", ga.TimeLeft)
		c.emit(&ClosedEvent{Reason: fmt.Sprintf("server going away (time left %s)", ga.TimeLeft)})
	}
}

// emit blocks; channel events are ordered and must not be dropped. The
// buffer absorbs bursts while the session loop drains.
func (c *Channel) emit(ev ChannelEvent) {
	c.events <- ev
}
