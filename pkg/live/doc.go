// Package live implements a real-time voice session engine over a
// bidirectional model channel.
//
// # Architecture
//
// The package provides the core components of one voice call:
//
//   - Engine: the orchestrator and session state machine
//   - Capture: microphone input, framed into fixed 20ms chunks
//   - Channel: the websocket connection speaking the live wire protocol
//   - Scheduler: gapless playback of streamed speech chunks
//   - Dispatcher: tool-call routing with exactly one response per call
//   - Codec: PCM16LE <-> normalized float frames, base64 on the wire
//
// # Data Flow
//
//	Mic → Capture → EncodeFrame → Channel ──────────────→ model
//	Speaker ← Scheduler ← DecodeBlob ← Channel ←───────── model
//	Tool handlers ← Dispatcher ← ToolCallEvent; responses go back up
//
// # State Machine
//
// The engine progresses through these states:
//
//	IDLE → CONNECTING → ACTIVE → CLOSING → IDLE
//	           │           │
//	           └─ ERROR ←──┘  (then cleanup back to IDLE)
//
// # Usage
//
//	cfg := live.DefaultConfig()
//	cfg.Model = "models/gemini-2.0-flash-live-001"
//	cfg.APIKey = os.Getenv("GEMINI_API_KEY")
//
//	engine := live.NewEngine(cfg, logger)
//	engine.RegisterTool(decl, handler)
//	engine.Start(ctx)
//
//	for event := range engine.Events() {
//	    switch e := event.(type) {
//	    case *live.RecordFinalizedEvent:
//	        handleRecord(e.Record)
//	    }
//	}
package live
