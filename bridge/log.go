package bridge

import (
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// init is called at package load; log output is disabled unless the
// embedding application opts in, matching the teacher's "quiet by default"
// library posture.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// Logger is the package-wide pulsegate Logger. Callers enable it with
// zerolog.SetGlobalLevel or by replacing Logger outright.
var Logger = zerolog.New(os.Stdout)

// Logger Contexts.
const (
	// LogCtxClient is the log key for a Client's bot user ID.
	LogCtxClient = "client"

	// LogCtxCorrelation is the log key for a per-request correlation ID.
	LogCtxCorrelation = "xid"

	// LogCtxRequest is the log key for an outbound REST request.
	LogCtxRequest = "request"

	// LogCtxRoute is the log key for a route template.
	LogCtxRoute = "route"

	// LogCtxMethod is the log key for an HTTP method.
	LogCtxMethod = "method"

	// LogCtxEndpoint is the log key for an absolute request path.
	LogCtxEndpoint = "endpoint"

	// LogCtxBucket is the log key for a rate-limit Bucket's server-assigned ID.
	LogCtxBucket = "bucket"

	// LogCtxBucketState is the log key for a Bucket's state machine label.
	LogCtxBucketState = "state"

	// LogCtxLimit is the log key for a Bucket's advertised capacity.
	LogCtxLimit = "limit"

	// LogCtxRemaining is the log key for a Bucket's remaining tokens.
	LogCtxRemaining = "remaining"

	// LogCtxReset is the log key for a Bucket's reset instant.
	LogCtxReset = "reset"

	// LogCtxResponse is the log key for an HTTP response.
	LogCtxResponse = "response"

	// LogCtxResponseStatus is the log key for an HTTP response status code.
	LogCtxResponseStatus = "status"

	// LogCtxSession is the log key for a gateway Session ID.
	LogCtxSession = "session"

	// LogCtxPayload is the log key for a gateway wire frame.
	LogCtxPayload = "payload"

	// LogCtxPayloadOpcode is the log key for a gateway frame's opcode.
	LogCtxPayloadOpcode = "opcode"

	// LogCtxPayloadData is the log key for a gateway frame's data.
	LogCtxPayloadData = "data"

	// LogCtxEvent is the log key for a dispatched event name.
	LogCtxEvent = "event"
)

// LogRequest logs an outbound REST admission.
func LogRequest(log *zerolog.Event, clientID, xid, method, route, endpoint string) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxClient, clientID).
		Dict(LogCtxRequest, zerolog.Dict().
			Str(LogCtxCorrelation, xid).
			Str(LogCtxMethod, method).
			Str(LogCtxRoute, route).
			Str(LogCtxEndpoint, endpoint),
		)
}

// LogResponse logs an HTTP response (typically chained after LogRequest).
func LogResponse(log *zerolog.Event, status int) *zerolog.Event {
	return log.Dict(LogCtxResponse, zerolog.Dict().
		Int(LogCtxResponseStatus, status),
	)
}

// LogBucket logs a rate-limit Bucket's observable state.
func LogBucket(log *zerolog.Event, id, state string, limit, remaining int, reset time.Time) *zerolog.Event {
	return log.Dict(LogCtxBucket, zerolog.Dict().
		Str("id", id).
		Str(LogCtxBucketState, state).
		Int(LogCtxLimit, limit).
		Int(LogCtxRemaining, remaining).
		Time(LogCtxReset, reset),
	)
}

// LogSession logs a gateway session identity.
func LogSession(log *zerolog.Event, sessionID string) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxSession, sessionID)
}

// LogPayload logs a gateway wire frame (typically chained after LogSession).
func LogPayload(log *zerolog.Event, op int, data json.RawMessage) *zerolog.Event {
	return log.Dict(LogCtxPayload, zerolog.Dict().
		Int(LogCtxPayloadOpcode, op).
		Bytes(LogCtxPayloadData, data),
	)
}

// LogEvent logs a dispatched event handed to the Event Sink.
func LogEvent(log *zerolog.Event, clientID, event string) *zerolog.Event {
	return log.Timestamp().
		Str(LogCtxClient, clientID).
		Str(LogCtxEvent, event)
}
