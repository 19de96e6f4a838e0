package bridge

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// Rate-limit header names consumed from each REST response, per spec.md §6.
// Kept as their own byte literals (rather than reusing the bucket-identifier
// constant for the limit header, as the teacher's source conflates them) per
// the correction noted in spec.md §9 Design Notes.
var (
	headerRateLimitBucket    = []byte("X-RateLimit-Bucket")
	headerRateLimitLimit     = []byte("X-RateLimit-Limit")
	headerRateLimitRemaining = []byte("X-RateLimit-Remaining")
	headerRateLimitReset     = []byte("X-RateLimit-Reset")
)

// RateLimitHeader is the parsed set of rate-limit headers from one REST
// response. A zero-value bool field ("Has...") means the header was absent
// from the response, which the Coordinator must distinguish from a
// genuine zero value.
type RateLimitHeader struct {
	BucketID string

	HasLimit bool
	Limit    int

	HasRemaining bool
	Remaining    int

	HasReset bool
	Reset    time.Time
}

// parseRateLimitHeader extracts the rate-limit headers from an HTTP
// response. Absent or unparsable headers are simply omitted (Has... stays
// false); a partial or missing header set is normal for routes that are not
// yet bucketed, or that never will be (e.g. a request the server rejected
// before routing it to a bucket).
func parseRateLimitHeader(resp *fasthttp.Response) RateLimitHeader {
	var h RateLimitHeader

	h.BucketID = string(resp.Header.PeekBytes(headerRateLimitBucket))

	if raw := resp.Header.PeekBytes(headerRateLimitLimit); len(raw) > 0 {
		if v, err := strconv.Atoi(string(raw)); err == nil {
			h.HasLimit = true
			h.Limit = v
		}
	}

	if raw := resp.Header.PeekBytes(headerRateLimitRemaining); len(raw) > 0 {
		if v, err := strconv.Atoi(string(raw)); err == nil {
			h.HasRemaining = true
			h.Remaining = v
		}
	}

	if raw := resp.Header.PeekBytes(headerRateLimitReset); len(raw) > 0 {
		if v, err := strconv.ParseFloat(string(raw), 64); err == nil {
			h.HasReset = true
			h.Reset = epochSecondsToTime(v)
		}
	}

	return h
}

// epochSecondsToTime converts a fractional UNIX epoch seconds value (as
// served by the reset header) into a time.Time.
func epochSecondsToTime(seconds float64) time.Time {
	whole := int64(seconds)
	frac := seconds - float64(whole)

	return time.Unix(whole, 0).Add(time.Duration(frac * float64(time.Second)))
}
