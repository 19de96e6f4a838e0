package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func newTestSession(t *testing.T) (*GatewaySession, *sendPacer, chan []byte) {
	t.Helper()

	clock := NewFakeClock(time.Unix(0, 0))
	sent := make(chan []byte, 8)

	pacer := newSendPacer(clock, time.Hour, func(payload []byte) error {
		sent <- payload

		return nil
	})
	t.Cleanup(pacer.close)

	client := NewClient("Bot abc123", WithIntents(513))

	s := &GatewaySession{
		client:  client,
		token:   client.token,
		intents: client.config.Intents,
		lastSeq: noSequence,
	}

	return s, pacer, sent
}

// TestGatewaySessionHandshakeIdentify covers the first half of scenario 5:
// a fresh client (session_id == "") sends Identify including intents,
// token, and properties.os.
func TestGatewaySessionHandshakeIdentify(t *testing.T) {
	s, pacer, sent := newTestSession(t)

	if err := s.handshake(pacer); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(<-sent, &frame); err != nil {
		t.Fatalf("decoding outbound frame: %v", err)
	}

	if frame.Op != OpIdentify {
		t.Fatalf("opcode: got %d, want OpIdentify (%d)", frame.Op, OpIdentify)
	}

	var payload identifyPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decoding Identify payload: %v", err)
	}

	if payload.Token != "abc123" {
		t.Fatalf("token: got %q, want %q", payload.Token, "abc123")
	}

	if payload.Intents != 513 {
		t.Fatalf("intents: got %d, want 513", payload.Intents)
	}

	if payload.Properties.OS == "" {
		t.Fatalf("properties.os: got empty string")
	}
}

// TestGatewaySessionHandshakeResume covers the second half of scenario 5:
// once session_id is non-null (e.g. after a transient transport failure),
// the next handshake sends Resume with token, session_id, seq.
func TestGatewaySessionHandshakeResume(t *testing.T) {
	s, pacer, sent := newTestSession(t)

	s.sessionID = "sess-1"
	s.lastSeq = 42

	if err := s.handshake(pacer); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(<-sent, &frame); err != nil {
		t.Fatalf("decoding outbound frame: %v", err)
	}

	if frame.Op != OpResume {
		t.Fatalf("opcode: got %d, want OpResume (%d)", frame.Op, OpResume)
	}

	var payload resumePayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decoding Resume payload: %v", err)
	}

	if payload.SessionID != "sess-1" || payload.Seq != 42 || payload.Token != "abc123" {
		t.Fatalf("resume payload: got %+v", payload)
	}
}

// TestGatewaySessionHandleFrameDispatchReady verifies READY populates
// sessionID and userID and is still forwarded to the Event Sink.
func TestGatewaySessionHandleFrameDispatchReady(t *testing.T) {
	s, _, _ := newTestSession(t)

	var gotName string

	var gotData []byte

	s.sink = func(name string, data json.RawMessage) {
		gotName = name
		gotData = append([]byte(nil), data...)
	}

	readyData, err := json.Marshal(map[string]any{
		"session_id": "sess-ready",
		"user":       map[string]any{"id": "bot-1"},
	})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	name := dispatchEventReady
	seq := int64(7)

	transport := &gatewayTransport{}

	if err := s.handleFrame(context.Background(), transport, Frame{
		Op:   OpDispatch,
		Type: &name,
		Seq:  &seq,
		Data: readyData,
	}); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	if s.SessionID() != "sess-ready" {
		t.Fatalf("sessionID: got %q, want %q", s.SessionID(), "sess-ready")
	}

	if s.UserID() != "bot-1" {
		t.Fatalf("userID: got %q, want %q", s.UserID(), "bot-1")
	}

	if s.LastSequence() != 7 {
		t.Fatalf("lastSeq: got %d, want 7", s.LastSequence())
	}

	if gotName != dispatchEventReady {
		t.Fatalf("event sink name: got %q, want %q", gotName, dispatchEventReady)
	}

	if string(gotData) != string(readyData) {
		t.Fatalf("event sink data: got %s, want %s", gotData, readyData)
	}
}

func TestGatewaySessionHandleFrameHeartbeatAckClearsLatch(t *testing.T) {
	s, _, _ := newTestSession(t)

	clock := NewFakeClock(time.Unix(0, 0))
	hb := newHeartbeatScheduler(clock, time.Hour, func() error { return nil }, func() {})

	defer hb.close()

	hb.waiting.Store(true)
	s.heartbeat = hb

	transport := &gatewayTransport{}

	if err := s.handleFrame(context.Background(), transport, Frame{Op: OpHeartbeatAck}); err != nil {
		t.Fatalf("handleFrame: %v", err)
	}

	if hb.waiting.Load() {
		t.Fatalf("waiting latch was not cleared by HeartbeatAck")
	}
}

func TestGatewaySessionHandleFrameReconnectSignalsReconnect(t *testing.T) {
	s, _, _ := newTestSession(t)

	transport := &gatewayTransport{}

	err := s.handleFrame(context.Background(), transport, Frame{Op: OpReconnect})
	if !errors.Is(err, errReconnectSignal) {
		t.Fatalf("handleFrame(Reconnect): got %v, want errReconnectSignal", err)
	}
}

// TestGatewaySessionHandleFrameHelloRearmsHeartbeat covers the opcode
// table's Hello row firing mid-session (not just during the initial
// handshake): it must clear any outstanding ack latch and reconfigure the
// scheduler's ticker for the newly advertised interval. The ticker itself
// is only ever read by the scheduler's own run loop, so the assertion goes
// through the beat callback rather than racing hb.run() on hb.ticker.C().
func TestGatewaySessionHandleFrameHelloRearmsHeartbeat(t *testing.T) {
	s, _, _ := newTestSession(t)

	clock := NewFakeClock(time.Unix(0, 0))
	beats := make(chan struct{}, 8)

	hb := newHeartbeatScheduler(clock, time.Hour, func() error {
		beats <- struct{}{}

		return nil
	}, func() {})

	defer hb.close()

	hb.waiting.Store(true)
	s.heartbeat = hb

	transport := &gatewayTransport{}

	helloData, err := json.Marshal(helloPayload{HeartbeatInterval: 2000})
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	if err := s.handleFrame(context.Background(), transport, Frame{Op: OpHello, Data: helloData}); err != nil {
		t.Fatalf("handleFrame(Hello): %v", err)
	}

	if hb.waiting.Load() {
		t.Fatalf("waiting latch was not cleared by a mid-session Hello")
	}

	// The ticker was reconfigured to a 2s period (from the original hour);
	// advancing by less than that must not fire a heartbeat.
	clock.Advance(time.Second)

	select {
	case <-beats:
		t.Fatalf("heartbeat fired before its newly reset interval elapsed")
	default:
	}

	clock.Advance(time.Second)

	select {
	case <-beats:
	case <-time.After(time.Second):
		t.Fatalf("heartbeat did not fire once the newly reset 2s interval elapsed")
	}
}

// TestGatewaySessionInvokeSinkSuppressesPanic covers spec.md §6: a panic
// inside the Event Sink must not propagate past the session boundary.
func TestGatewaySessionInvokeSinkSuppressesPanic(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.sink = func(name string, data json.RawMessage) {
		panic("boom")
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		s.invokeSink("SOME_EVENT", nil)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("invokeSink did not return after the sink panicked")
	}
}

func TestGatewaySessionClassifyCancellationIsTerminal(t *testing.T) {
	s, _, _ := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reconnect, err := s.classify(ctx, context.Canceled)
	if reconnect {
		t.Fatalf("classify on a cancelled context: got reconnect=true, want false")
	}

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("classify: got err %v, want context.Canceled", err)
	}
}

func TestGatewaySessionClassifyReconnectSignalIsTransient(t *testing.T) {
	s, _, _ := newTestSession(t)

	reconnect, err := s.classify(context.Background(), errReconnectSignal)
	if !reconnect {
		t.Fatalf("classify(errReconnectSignal): got reconnect=false, want true")
	}

	if err == nil {
		t.Fatalf("classify(errReconnectSignal): got nil error")
	}
}

func TestGatewaySessionConnectRejectsReentrantCalls(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.connected = true

	if _, err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("Connect on an already-connected session: got %v, want ErrAlreadyConnected", err)
	}
}

func TestGatewaySessionConnectRejectsDisposed(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.disposed = true

	if _, err := s.Connect(context.Background()); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("Connect on a disposed session: got %v, want ErrSessionDisposed", err)
	}
}

func TestGatewaySessionDisconnectResetsIdentity(t *testing.T) {
	s, _, _ := newTestSession(t)

	s.sessionID = "sess-1"
	s.lastSeq = 9
	s.userID = "bot-1"

	if err := s.Disconnect(closeCodeNormal, "bye"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	if s.SessionID() != "" || s.UserID() != "" || s.LastSequence() != noSequence {
		t.Fatalf("Disconnect did not reset session identity")
	}

	if _, err := s.Connect(context.Background()); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("Connect after Disconnect: got %v, want ErrSessionDisposed", err)
	}
}
