package bridge

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNewClientStripsAuthSchemePrefix(t *testing.T) {
	c := NewClient("Bot abc123")

	if c.token != "abc123" {
		t.Fatalf("token: got %q, want %q", c.token, "abc123")
	}
}

func TestNewClientLeavesBareTokenUnchanged(t *testing.T) {
	c := NewClient("abc123")

	if c.token != "abc123" {
		t.Fatalf("token: got %q, want %q", c.token, "abc123")
	}
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("abc123")

	if c.config.APIBase != defaultAPIBase {
		t.Fatalf("APIBase: got %q, want %q", c.config.APIBase, defaultAPIBase)
	}

	if c.config.UserAgent != defaultUserAgent {
		t.Fatalf("UserAgent: got %q, want %q", c.config.UserAgent, defaultUserAgent)
	}

	if c.config.HTTPTimeout != defaultHTTPTimeout {
		t.Fatalf("HTTPTimeout: got %v, want %v", c.config.HTTPTimeout, defaultHTTPTimeout)
	}

	if c.config.PacerInterval != defaultPacerInterval {
		t.Fatalf("PacerInterval: got %v, want %v", c.config.PacerInterval, defaultPacerInterval)
	}

	if c.Registry == nil || c.Transport == nil || c.Coordinator == nil || c.Clock == nil {
		t.Fatalf("Client: one or more REST-half collaborators were not wired: %+v", c)
	}
}

func TestNewClientAppliesOptions(t *testing.T) {
	c := NewClient("abc123",
		WithAPIBase("https://example.test/api"),
		WithUserAgent("custom-agent/1.0"),
		WithHTTPTimeout(3*time.Second),
		WithPacerInterval(250*time.Millisecond),
		WithIntents(513),
	)

	if c.config.APIBase != "https://example.test/api" {
		t.Fatalf("APIBase: got %q", c.config.APIBase)
	}

	if c.config.UserAgent != "custom-agent/1.0" {
		t.Fatalf("UserAgent: got %q", c.config.UserAgent)
	}

	if c.config.HTTPTimeout != 3*time.Second {
		t.Fatalf("HTTPTimeout: got %v", c.config.HTTPTimeout)
	}

	if c.config.PacerInterval != 250*time.Millisecond {
		t.Fatalf("PacerInterval: got %v", c.config.PacerInterval)
	}

	if c.config.Intents != 513 {
		t.Fatalf("Intents: got %d, want 513", c.config.Intents)
	}
}

func TestClientNewSessionBindsClient(t *testing.T) {
	c := NewClient("Bot abc123", WithIntents(1))

	s := c.NewSession(func(name string, data json.RawMessage) {})

	if s.client != c {
		t.Fatalf("NewSession: session's client does not match its constructor")
	}

	if s.token != "abc123" {
		t.Fatalf("NewSession: session token got %q, want %q", s.token, "abc123")
	}

	if s.intents != 1 {
		t.Fatalf("NewSession: session intents got %d, want 1", s.intents)
	}
}
