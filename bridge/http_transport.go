package bridge

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
)

// Response is the result of one HTTP exchange. It is owned by the caller:
// Body is a copy taken before the underlying fasthttp.Response is released
// back to its pool, so it remains valid after Send returns.
type Response struct {
	StatusCode int
	Body       []byte
	Header     RateLimitHeader

	// CacheMaxAge is the Cache-Control max-age directive, if present. It
	// backs the gateway URL cache's "server-provided cache-age hint"
	// (spec.md §4.1); zero when the response carried no such directive.
	CacheMaxAge time.Duration
}

// Unmarshal decodes the response body as JSON into dst.
func (r *Response) Unmarshal(dst any) error {
	return json.Unmarshal(r.Body, dst)
}

// HTTPTransport issues one HTTP exchange per call and reports the response
// headers and body; it does not interpret rate-limit semantics itself
// (spec.md §4.5) — that is the Coordinator's job.
type HTTPTransport struct {
	client    *fasthttp.Client
	authorize string // "Bot <token>", attached as a process-wide default
	userAgent string
	timeout   time.Duration
}

// NewHTTPTransport constructs a transport that authorizes every request
// with the given header value.
func NewHTTPTransport(authorize, userAgent string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client:    &fasthttp.Client{},
		authorize: authorize,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// Send issues (method, path, optional body, optional audit reason) and
// returns the response and its parsed rate-limit headers. The cancellation
// handle is honored even though fasthttp itself has no context-aware send:
// the exchange runs on its own goroutine and Send returns as soon as either
// it completes or ctx is done, matching spec.md §5's cancellation
// requirement for HTTP admission.
func (t *HTTPTransport) Send(ctx context.Context, req RouteRequest, correlationID string) (*Response, RateLimitHeader, error) {
	request := fasthttp.AcquireRequest()
	response := fasthttp.AcquireResponse()

	request.Header.SetMethod(req.Method)
	request.SetRequestURI(req.Path)
	request.Header.Set("Authorization", t.authorize)
	request.Header.Set("User-Agent", t.userAgent)
	request.Header.Set("X-Correlation-ID", correlationID)

	if req.Reason != "" {
		request.Header.Set("X-Audit-Log-Reason", req.Reason)
	}

	if req.Body != nil {
		request.Header.SetContentType("application/json; charset=utf-8")
		request.SetBodyRaw(req.Body)
	}

	done := make(chan error, 1)

	go func() {
		done <- t.client.DoTimeout(request, response, t.timeout)
	}()

	select {
	case err := <-done:
		defer fasthttp.ReleaseRequest(request)
		defer fasthttp.ReleaseResponse(response)

		if err != nil {
			return nil, RateLimitHeader{}, &TransportError{Op: "send", Err: err}
		}

		header := parseRateLimitHeader(response)
		body := append([]byte(nil), response.Body()...)

		return &Response{
			StatusCode:  response.StatusCode(),
			Body:        body,
			Header:      header,
			CacheMaxAge: parseCacheMaxAge(response),
		}, header, nil

	case <-ctx.Done():
		// The in-flight exchange still owns request/response; release them
		// once it actually finishes rather than racing a concurrent reuse.
		go func() {
			<-done
			fasthttp.ReleaseRequest(request)
			fasthttp.ReleaseResponse(response)
		}()

		return nil, RateLimitHeader{}, ctx.Err()
	}
}

// parseCacheMaxAge extracts the max-age directive from a Cache-Control
// response header, returning zero if absent or unparsable.
func parseCacheMaxAge(resp *fasthttp.Response) time.Duration {
	raw := string(resp.Header.Peek("Cache-Control"))
	if raw == "" {
		return 0
	}

	for _, directive := range strings.Split(raw, ",") {
		directive = strings.TrimSpace(directive)

		name, value, found := strings.Cut(directive, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}

		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}

		return time.Duration(seconds) * time.Second
	}

	return 0
}
