package events

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
)

func hubConfig() config.EventsConfig {
	return config.EventsConfig{
		Enabled:           true,
		Path:              "/ws",
		BroadcastRequests: true,
		BroadcastFindings: true,
		BroadcastBlocks:   true,
		BroadcastSystem:   false,
		BroadcastPresence: true,
		AllowedOrigins:    []string{"*"},
	}
}

func TestHubPublish(t *testing.T) {
	t.Run("DisabledTypeDropped", func(t *testing.T) {
		h := NewHub(hubConfig(), zap.NewNop())
		h.Publish(Event{Type: EventTypeSystem, Data: SystemEvent{Status: "ok"}})
		if len(h.broadcast) != 0 {
			t.Error("Disabled event type must not be queued")
		}
	})

	t.Run("EnabledTypeQueued", func(t *testing.T) {
		h := NewHub(hubConfig(), zap.NewNop())
		h.Finding("r1", "pre_request", []string{"email"}, 1)
		if len(h.broadcast) != 1 {
			t.Fatalf("Expected 1 queued event, got %d", len(h.broadcast))
		}
		e := <-h.broadcast
		if e.Type != EventTypeFinding || e.RequestID != "r1" {
			t.Errorf("Unexpected event: %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("Publish must stamp the event")
		}
	})

	t.Run("FullQueueDoesNotBlock", func(t *testing.T) {
		h := NewHub(hubConfig(), zap.NewNop())
		for i := 0; i < 300; i++ {
			h.Publish(Event{Type: EventTypeBlock, Data: BlockEvent{RequestID: "r"}})
		}
	})
}

func TestClientSubscription(t *testing.T) {
	t.Run("NoSubscriptionGetsAll", func(t *testing.T) {
		c := &Client{}
		if !c.wants(EventTypeFinding) || !c.wants(EventTypeSystem) {
			t.Error("Unsubscribed client should receive every type")
		}
	})

	t.Run("SubscriptionFilters", func(t *testing.T) {
		c := &Client{Subscription: &SubscriptionRequest{Events: []EventType{EventTypeBlock}}}
		if !c.wants(EventTypeBlock) {
			t.Error("Subscribed type must pass")
		}
		if c.wants(EventTypeFinding) {
			t.Error("Unsubscribed type must be filtered")
		}
	})
}

func TestHubAuth(t *testing.T) {
	cfg := hubConfig()
	cfg.Username = "ops"
	cfg.Password = "hunter2"
	h := NewHub(cfg, zap.NewNop())

	t.Run("ValidCredentials", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("ops:hunter2")))
		if !h.authorized(r) {
			t.Error("Valid credentials must authorize")
		}
	})

	t.Run("WrongPassword", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		r.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("ops:wrong")))
		if h.authorized(r) {
			t.Error("Wrong password must not authorize")
		}
	})

	t.Run("MissingHeader", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/ws", nil)
		if h.authorized(r) {
			t.Error("Missing header must not authorize")
		}
	})
}

func TestOriginAllowed(t *testing.T) {
	cfg := hubConfig()
	cfg.AllowedOrigins = []string{"https://dashboard.example.com"}
	h := NewHub(cfg, zap.NewNop())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://dashboard.example.com")
	if !h.originAllowed(r) {
		t.Error("Listed origin must be allowed")
	}

	r.Header.Set("Origin", "https://evil.example.com")
	if h.originAllowed(r) {
		t.Error("Unlisted origin must be rejected")
	}
}
