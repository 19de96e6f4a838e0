package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// EventSink is the caller-supplied handler invoked once per Dispatch opcode
// (spec.md §6). data is only valid until the call returns; a handler that
// panics is recovered at the session boundary and never kills the session.
type EventSink func(name string, data json.RawMessage)

// errReconnectSignal marks the Reconnect opcode's outcome: it ends the
// current connection but leaves the session's identity intact so the next
// Connect call can Resume. A missed heartbeat ack ends the connection with
// ErrHeartbeatMissed and a peer close with *CloseError instead.
var errReconnectSignal = errors.New("pulsegate: gateway requested reconnect")

// GatewaySession drives the handshake, heartbeat, send-pacing, and opcode
// dispatch described in spec.md §4.1 over one Gateway Transport at a time.
// Session identity (sessionID, lastSeq, userID) outlives any one
// connection attempt so a transient failure can Resume instead of
// restarting the event stream from scratch.
type GatewaySession struct {
	client *Client
	sink   EventSink

	token   string
	intents int64

	mu        sync.Mutex
	sessionID string
	lastSeq   int64
	userID    string
	connected bool
	disposed  bool

	transport *gatewayTransport
	pacer     *sendPacer
	heartbeat *heartbeatScheduler
}

// newGatewaySession constructs a session bound to client's token, intents,
// and REST stack (shared for gateway URL discovery).
func newGatewaySession(client *Client, sink EventSink) *GatewaySession {
	return &GatewaySession{
		client:  client,
		sink:    sink,
		token:   client.token,
		intents: client.config.Intents,
		lastSeq: noSequence,
	}
}

// SessionID returns the server-assigned session identifier, or "" if no
// session has ever been established.
func (s *GatewaySession) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sessionID
}

// UserID returns the bot's identity as populated by the last READY event.
func (s *GatewaySession) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userID
}

// LastSequence returns the last sequence number observed, or noSequence if
// none has arrived yet.
func (s *GatewaySession) LastSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeq
}

// Connect opens a gateway connection and runs the session until it
// terminates, per the contract in spec.md §4.1: the returned bool is an
// instruction to the caller (true = transient failure, reconnect; false =
// terminal, do not reconnect). It is invalid to call Connect re-entrantly
// on an already-connected or disposed session; such misuse is rejected
// synchronously before any I/O (spec.md §7 kind 3).
func (s *GatewaySession) Connect(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()

		return false, ErrSessionDisposed
	}

	if s.connected {
		s.mu.Unlock()

		return false, ErrAlreadyConnected
	}

	s.connected = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	url := s.client.resolveGatewayURL(ctx)

	transport := &gatewayTransport{}
	if err := transport.connect(ctx, url); err != nil {
		return true, err
	}

	return s.run(ctx, transport)
}

// run executes one connection's lifetime: handshake, the receive loop, the
// Send Pacer, and the Heartbeat Scheduler, tearing all three down before
// returning.
func (s *GatewaySession) run(ctx context.Context, transport *gatewayTransport) (bool, error) {
	hello, err := s.awaitHello(ctx, transport)
	if err != nil {
		transport.closeAbrupt()

		return s.classify(ctx, err)
	}

	interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond

	pacer := newSendPacer(s.client.Clock, s.client.config.PacerInterval, func(payload []byte) error {
		return transport.send(ctx, payload)
	})

	s.mu.Lock()
	s.transport = transport
	s.pacer = pacer
	s.mu.Unlock()

	if err := s.handshake(pacer); err != nil {
		pacer.close()
		transport.closeAbrupt()
		s.teardown()

		return s.classify(ctx, err)
	}

	missed := make(chan struct{}, 1)
	hb := newHeartbeatScheduler(s.client.Clock, interval, s.beat(pacer), func() {
		select {
		case missed <- struct{}{}:
		default:
		}
	})

	s.mu.Lock()
	s.heartbeat = hb
	s.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.receiveLoop(gctx, transport)
	})

	group.Go(func() error {
		select {
		case <-missed:
			_ = transport.closeGraceful(closeCodeProtocolError, "heartbeat ack not received")

			return ErrHeartbeatMissed

		case <-gctx.Done():
			return nil
		}
	})

	waitErr := group.Wait()

	// The Reconnect-opcode and missed-ack paths above already closed the
	// transport gracefully with a specific status code; a steady-state
	// transport error or a caller-driven cancellation has not. Closing here
	// unconditionally (the graceful paths' prior close is a no-op second
	// call) guarantees the connection is never left open on any exit from
	// run, per spec.md §4.1's "close transport" failure semantics.
	if ctx.Err() != nil {
		_ = transport.closeGraceful(closeCodeAway, "context cancelled")
	} else {
		transport.closeAbrupt()
	}

	hb.close()
	pacer.close()
	s.teardown()

	return s.classify(ctx, waitErr)
}

// teardown clears the transport/pacer/heartbeat handles once a connection
// attempt ends; session identity (sessionID, lastSeq, userID) is left
// untouched so a future Connect can Resume.
func (s *GatewaySession) teardown() {
	s.mu.Lock()
	s.transport = nil
	s.pacer = nil
	s.heartbeat = nil
	s.mu.Unlock()
}

// awaitHello blocks for the first frame on a fresh connection, which must
// be Hello per the gateway protocol (spec.md §4.1).
func (s *GatewaySession) awaitHello(ctx context.Context, transport *gatewayTransport) (helloPayload, error) {
	frame, err := transport.receive(ctx)
	if err != nil {
		return helloPayload{}, err
	}

	if frame.Op != OpHello {
		return helloPayload{}, &ProtocolError{
			Code:   closeCodeProtocolError,
			Reason: fmt.Sprintf("expected Hello, got opcode %d", frame.Op),
		}
	}

	var hello helloPayload
	if err := json.Unmarshal(frame.Data, &hello); err != nil {
		return helloPayload{}, fmt.Errorf("pulsegate: decoding Hello: %w", err)
	}

	return hello, nil
}

// handshake emits Identify (sessionID unset) or Resume (sessionID set), per
// spec.md §4.1, as normal (non-priority) traffic.
func (s *GatewaySession) handshake(pacer *sendPacer) error {
	s.mu.Lock()
	sessionID := s.sessionID
	lastSeq := s.lastSeq
	s.mu.Unlock()

	var (
		raw []byte
		err error
	)

	if sessionID == "" {
		raw, err = encodeFrame(OpIdentify, identifyPayload{
			Token:      s.token,
			Properties: identifyPropertiesJSON{OS: runtime.GOOS},
			Intents:    s.intents,
		})
	} else {
		raw, err = encodeFrame(OpResume, resumePayload{
			Token:     s.token,
			SessionID: sessionID,
			Seq:       lastSeq,
		})
	}

	if err != nil {
		return err
	}

	return <-pacer.pushBack(raw)
}

// beat returns the Heartbeat Scheduler's send callback: encode a Heartbeat
// frame carrying the last sequence number (or a null marker, per spec.md
// §4.3) and push it to the head of the Send Pacer's queue.
func (s *GatewaySession) beat(pacer *sendPacer) func() error {
	return func() error {
		s.mu.Lock()
		seq := s.lastSeq
		s.mu.Unlock()

		var payload any
		if seq != noSequence {
			payload = seq
		}

		raw, err := encodeFrame(OpHeartbeat, payload)
		if err != nil {
			return err
		}

		return <-pacer.pushFront(raw)
	}
}

// receiveLoop consumes frames until the transport fails, the peer closes,
// or an opcode handler signals termination.
func (s *GatewaySession) receiveLoop(ctx context.Context, transport *gatewayTransport) error {
	for {
		frame, err := transport.receive(ctx)
		if err != nil {
			return err
		}

		if err := s.handleFrame(ctx, transport, frame); err != nil {
			return err
		}
	}
}

// handleFrame dispatches one inbound frame by opcode (spec.md §4.1's
// opcode table). A non-nil return ends the receive loop.
func (s *GatewaySession) handleFrame(ctx context.Context, transport *gatewayTransport, frame Frame) error {
	if frame.Seq != nil {
		s.mu.Lock()
		s.lastSeq = *frame.Seq
		s.mu.Unlock()
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	LogPayload(LogSession(Logger.Trace(), sessionID), frame.Op, frame.Data).Msg("received gateway frame")

	switch frame.Op {
	case OpHeartbeatAck:
		s.mu.Lock()
		hb := s.heartbeat
		s.mu.Unlock()

		if hb != nil {
			hb.ack()
		}

		return nil

	case OpReconnect:
		_ = transport.closeGraceful(closeCodeReconnect, "reconnect requested")

		return errReconnectSignal

	case OpHello:
		// A Hello after the initial handshake re-arms the heartbeat
		// scheduler at the newly advertised interval and clears any
		// outstanding ack latch, per spec.md §4.1/§4.3's opcode table: the
		// Hello action is committed to on every Hello, not just the first.
		var hello helloPayload
		if err := json.Unmarshal(frame.Data, &hello); err != nil {
			return fmt.Errorf("pulsegate: decoding Hello: %w", err)
		}

		s.mu.Lock()
		hb := s.heartbeat
		s.mu.Unlock()

		if hb != nil {
			hb.reset(time.Duration(hello.HeartbeatInterval) * time.Millisecond)
		}

		return nil

	case OpDispatch:
		s.handleDispatch(frame)

		return nil

	default:
		// Any other inbound opcode is acknowledged only implicitly, per
		// spec.md §4.1's "Other | Ignored" row.
		return nil
	}
}

// handleDispatch extracts READY's session identity, then forwards (name,
// data) to the Event Sink.
func (s *GatewaySession) handleDispatch(frame Frame) {
	if frame.Type == nil {
		return
	}

	name := *frame.Type

	if name == dispatchEventReady {
		var ready readyPayload
		if err := json.Unmarshal(frame.Data, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.userID = ready.User.ID
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	clientID := s.userID
	s.mu.Unlock()

	LogEvent(Logger.Debug(), clientID, name).Msg("dispatching event")

	s.invokeSink(name, frame.Data)
}

// invokeSink calls the Event Sink, recovering any panic at the session
// boundary (spec.md §6: "any thrown error is swallowed by the session").
func (s *GatewaySession) invokeSink(name string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error().
				Interface("panic", r).
				Str(LogCtxEvent, name).
				Msg("pulsegate: event sink panicked; suppressed at session boundary")
		}
	}()

	s.sink(name, data)
}

// classify turns the receive loop's terminal error into the reconnect
// instruction spec.md §4.1 requires.
func (s *GatewaySession) classify(ctx context.Context, err error) (bool, error) {
	if err == nil {
		return false, nil
	}

	// Cancellation of the receive operation is the session's signal to
	// terminate without reconnecting (spec.md §4.1 Failure semantics).
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if errors.Is(err, errReconnectSignal) || errors.Is(err, ErrHeartbeatMissed) {
		return true, err
	}

	var closeErr *CloseError
	if errors.As(err, &closeErr) {
		return true, err
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true, err
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return true, err
	}

	return true, err
}

// Disconnect permanently and gracefully ends the session: it resets
// session identity (so a later Connect on a fresh GatewaySession would
// Identify rather than Resume), closes the transport with the given status
// code and description, and marks the session disposed so a further
// Connect call is rejected synchronously.
func (s *GatewaySession) Disconnect(code int, reason string) error {
	s.mu.Lock()
	transport := s.transport
	s.disposed = true
	s.sessionID = ""
	s.lastSeq = noSequence
	s.userID = ""
	s.mu.Unlock()

	if transport == nil {
		return nil
	}

	return transport.closeGraceful(code, reason)
}
