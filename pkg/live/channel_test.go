package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newChannelTestServer runs handler on each upgraded connection and returns
// the ws:// URL to dial.
func newChannelTestServer(t *testing.T, handler func(t *testing.T, conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(t, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// completeSetup reads the client's setup frame and acknowledges it.
func completeSetup(t *testing.T, conn *websocket.Conn) setupMessage {
	t.Helper()
	var setup setupMessage
	if err := conn.ReadJSON(&setup); err != nil {
		t.Errorf("reading setup: %v", err)
		return setup
	}
	if err := conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}}); err != nil {
		t.Errorf("writing setupComplete: %v", err)
	}
	return setup
}

func collectEvents(t *testing.T, ch *Channel, n int) []ChannelEvent {
	t.Helper()
	var events []ChannelEvent
	timeout := time.After(5 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("event stream closed after %d events, want %d", len(events), n)
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d events, want %d", len(events), n)
		}
	}
	return events
}

func TestChannel_HandshakeAndEvents(t *testing.T) {
	pcm := base64.StdEncoding.EncodeToString([]byte{0x00, 0x10, 0x00, 0x20})

	url := newChannelTestServer(t, func(t *testing.T, conn *websocket.Conn) {
		setup := completeSetup(t, conn)
		if setup.Setup == nil {
			t.Error("setup payload missing")
			return
		}
		if setup.Setup.Model != "models/test" {
			t.Errorf("setup model = %q, want models/test", setup.Setup.Model)
		}
		if len(setup.Setup.Tools) != 1 || len(setup.Setup.Tools[0].FunctionDeclarations) != 2 {
			t.Errorf("setup tools = %+v, want 2 declarations", setup.Setup.Tools)
		}

		// Interrupt + audio + tool call, in one stream.
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{"parts": []map[string]any{
				{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm}},
			}},
		}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"interrupted": true}})
		conn.WriteJSON(map[string]any{"toolCall": map[string]any{
			"functionCalls": []map[string]any{
				{"id": "fc-1", "name": "requestPayment", "args": map[string]any{"description": "fee"}},
			},
		}})
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})

		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	ch, err := Connect(context.Background(), ChannelConfig{
		Endpoint: url,
		APIKey:   "test-key",
		Model:    "models/test",
		Tools: []FunctionDeclaration{
			{Name: "requestPayment"},
			{Name: "submitPrescriptionRequest"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	events := collectEvents(t, ch, 5)

	audio, ok := events[0].(*AudioEvent)
	if !ok {
		t.Fatalf("event 0 = %T, want *AudioEvent", events[0])
	}
	if audio.Blob.SampleRate != 24000 || audio.Blob.Data != pcm {
		t.Errorf("audio blob = %+v", audio.Blob)
	}

	if _, ok := events[1].(*InterruptedEvent); !ok {
		t.Fatalf("event 1 = %T, want *InterruptedEvent", events[1])
	}

	tc, ok := events[2].(*ToolCallEvent)
	if !ok {
		t.Fatalf("event 2 = %T, want *ToolCallEvent", events[2])
	}
	if len(tc.Calls) != 1 || tc.Calls[0].ID != "fc-1" || tc.Calls[0].Name != "requestPayment" {
		t.Errorf("tool calls = %+v", tc.Calls)
	}

	if _, ok := events[3].(*TurnCompleteEvent); !ok {
		t.Fatalf("event 3 = %T, want *TurnCompleteEvent", events[3])
	}
	closed, ok := events[4].(*ClosedEvent)
	if !ok {
		t.Fatalf("event 4 = %T, want *ClosedEvent", events[4])
	}
	if closed.Reason != "closed by server" {
		t.Errorf("close reason = %q", closed.Reason)
	}
}

func TestChannel_HandshakeRejected(t *testing.T) {
	url := newChannelTestServer(t, func(t *testing.T, conn *websocket.Conn) {
		var setup setupMessage
		conn.ReadJSON(&setup)
		// Wrong first frame: the client must refuse the session.
		conn.WriteJSON(map[string]any{"serverContent": map[string]any{"turnComplete": true}})
	})

	_, err := Connect(context.Background(), ChannelConfig{
		Endpoint:         url,
		Model:            "models/test",
		HandshakeTimeout: 2 * time.Second,
	}, nil)
	if err == nil {
		t.Fatal("Connect succeeded without setupComplete")
	}
	if !IsType(err, ErrConnectFailed) {
		t.Errorf("error = %v, want %s", err, ErrConnectFailed)
	}
}

func TestChannel_DialFailure(t *testing.T) {
	_, err := Connect(context.Background(), ChannelConfig{
		Endpoint:         "ws://127.0.0.1:1", // nothing listens here
		Model:            "models/test",
		HandshakeTimeout: time.Second,
	}, nil)
	if err == nil {
		t.Fatal("Connect succeeded against a dead endpoint")
	}
	if !IsType(err, ErrConnectFailed) {
		t.Errorf("error = %v, want %s", err, ErrConnectFailed)
	}
}

func TestChannel_SendFrames(t *testing.T) {
	type frame struct {
		kind string
		raw  []byte
	}
	got := make(chan frame, 2)

	url := newChannelTestServer(t, func(t *testing.T, conn *websocket.Conn) {
		completeSetup(t, conn)
		for i := 0; i < 2; i++ {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var probe map[string]json.RawMessage
			json.Unmarshal(raw, &probe)
			for k := range probe {
				got <- frame{kind: k, raw: raw}
			}
		}
	})

	ch, err := Connect(context.Background(), ChannelConfig{Endpoint: url, Model: "models/test"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ch.Close()

	blob := EncodeFrame(&AudioFrame{Samples: []float32{0.1, -0.1}, SampleRate: CaptureSampleRate})
	if err := ch.SendAudio(blob); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := ch.SendToolResponse(ToolResponse{
		ID:     "fc-1",
		Name:   "requestPayment",
		Result: map[string]any{"status": "payment_link_sent"},
	}); err != nil {
		t.Fatalf("SendToolResponse: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case f := <-got:
			switch f.kind {
			case "realtimeInput":
				var msg realtimeInputMessage
				json.Unmarshal(f.raw, &msg)
				chunks := msg.RealtimeInput.MediaChunks
				if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" || chunks[0].Data != blob.Data {
					t.Errorf("media chunks = %+v", chunks)
				}
			case "toolResponse":
				var msg toolResponseMessage
				json.Unmarshal(f.raw, &msg)
				resps := msg.ToolResponse.FunctionResponses
				if len(resps) != 1 || resps[0].ID != "fc-1" || resps[0].Name != "requestPayment" {
					t.Errorf("function responses = %+v", resps)
				}
			default:
				t.Errorf("unexpected frame kind %q", f.kind)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("server never received both frames")
		}
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	url := newChannelTestServer(t, func(t *testing.T, conn *websocket.Conn) {
		completeSetup(t, conn)
		// Hold the connection open until the client hangs up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch, err := Connect(context.Background(), ChannelConfig{Endpoint: url, Model: "models/test"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// The event stream terminates with a local-close notice.
	var last ChannelEvent
	for ev := range ch.Events() {
		last = ev
	}
	if closed, ok := last.(*ClosedEvent); !ok || closed.Reason != "closed locally" {
		t.Errorf("final event = %#v, want local ClosedEvent", last)
	}
}
