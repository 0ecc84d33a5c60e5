package events

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType classifies hub events.
type EventType string

const (
	// EventTypeFinding announces that sensitive values were pseudonymized.
	EventTypeFinding EventType = "finding"
	// EventTypeBlock announces a blocked request.
	EventTypeBlock EventType = "block"
	// EventTypeRequestLog announces a completed request.
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystem carries gateway status updates.
	EventTypeSystem EventType = "system"
	// EventTypeConnection announces dashboard client churn.
	EventTypeConnection EventType = "connection"
)

// Event is one message broadcast to dashboard clients. Payloads must never
// contain detected values, prompts, responses, or substitution tables.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data"`
}

// FindingEvent reports a detection: categories and a count, nothing else.
type FindingEvent struct {
	RequestID  string   `json:"request_id"`
	Phase      string   `json:"phase"`
	Categories []string `json:"categories"`
	Count      int      `json:"count"`
}

// BlockEvent reports a blocked request.
type BlockEvent struct {
	RequestID string `json:"request_id"`
	Phase     string `json:"phase"`
	Module    string `json:"module"`
	Reason    string `json:"reason"`
}

// RequestLogEvent reports a completed request round trip.
type RequestLogEvent struct {
	RequestID  string        `json:"request_id"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"status_code"`
	Action     string        `json:"action"`
	Duration   time.Duration `json:"duration"`
}

// SystemEvent carries gateway status information.
type SystemEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	TotalBlocks      int64  `json:"total_blocks"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent reports dashboard client connects and disconnects.
type ConnectionEvent struct {
	Action   string `json:"action"` // "connected", "disconnected"
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// ClientMessage is a message from a dashboard client to the hub.
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest narrows the event types a client receives.
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client is one connected dashboard session.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
}
