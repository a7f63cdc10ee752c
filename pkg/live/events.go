package live

// Event is a typed occurrence emitted by the session engine. Consumers
// switch on the concrete type; EventType gives a stable wire name.
type Event interface {
	EventType() string
}

// CollectedRecord is the finalized intake payload assembled over the
// conversation: flat string fields keyed by canonical field name.
type CollectedRecord map[string]string

// Clone returns a defensive copy.
func (r CollectedRecord) Clone() CollectedRecord {
	out := make(CollectedRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SessionStartedEvent fires when the session reaches Active.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// StateChangedEvent fires on every lifecycle transition.
type StateChangedEvent struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "session.state_changed" }

// AudioLevelEvent carries the RMS level of one captured frame.
type AudioLevelEvent struct {
	RMS float64 `json:"rms"`
}

func (e *AudioLevelEvent) EventType() string { return "audio.level" }

// PlaybackInterruptedEvent fires when barge-in cancels queued speech.
type PlaybackInterruptedEvent struct {
	Cancelled int `json:"cancelled"`
}

func (e *PlaybackInterruptedEvent) EventType() string { return "playback.interrupted" }

// ToolCallStartedEvent fires when a tool invocation begins.
type ToolCallStartedEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (e *ToolCallStartedEvent) EventType() string { return "tool.call_started" }

// ToolResultEvent fires when a tool invocation has produced its response.
type ToolResultEvent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	IsError bool   `json:"is_error"`
}

func (e *ToolResultEvent) EventType() string { return "tool.result" }

// RecordFinalizedEvent fires once when the terminal tool accepts the record.
type RecordFinalizedEvent struct {
	Record CollectedRecord `json:"record"`
}

func (e *RecordFinalizedEvent) EventType() string { return "record.finalized" }

// SessionErrorEvent surfaces a session-fatal failure.
type SessionErrorEvent struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *SessionErrorEvent) EventType() string { return "session.error" }

// SessionClosedEvent fires when the session returns to Idle.
type SessionClosedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }
