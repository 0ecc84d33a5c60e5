package audit

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/guardrail"
)

func TestMaskDatabaseURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"with password", "postgres://app:secret@db:5432/audit", "postgres://app:***@db:5432/audit"},
		{"no credentials", "postgres://db:5432/audit", "postgres://db:5432/audit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := maskDatabaseURL(tt.url); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestBuildBatchInsert(t *testing.T) {
	now := time.Now()
	batch := []Entry{
		{RequestID: "r1", Module: "pii", Phase: "pre_request", Field: "prompt", Description: "redacted", CreatedAt: now},
		{RequestID: "r1", Module: "pii", Phase: "post_response", Field: "response", Description: "restored", CreatedAt: now},
	}

	query, args := buildBatchInsert(batch)
	if !strings.Contains(query, "($1, $2, $3, $4, $5, $6), ($7, $8, $9, $10, $11, $12)") {
		t.Errorf("Unexpected placeholder numbering in query: %s", query)
	}
	if len(args) != 12 {
		t.Fatalf("Expected 12 args, got %d", len(args))
	}
	if args[0] != "r1" || args[2] != "pre_request" || args[8] != "post_response" {
		t.Errorf("Args out of order: %v", args)
	}
}

func TestRecordDropsWhenFull(t *testing.T) {
	s := &Sink{
		entries: make(chan Entry, 1),
		logger:  zap.NewNop(),
	}

	s.record(Entry{RequestID: "r1", Phase: "pre_request", CreatedAt: time.Now()})
	// Buffer is full now; this must not block.
	done := make(chan struct{})
	go func() {
		s.record(Entry{RequestID: "r2", Phase: "pre_request", CreatedAt: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("record blocked on a full buffer")
	}
}

func TestRecordRequestQueuesAllModifications(t *testing.T) {
	s := &Sink{
		entries: make(chan Entry, 8),
		logger:  zap.NewNop(),
	}

	req := guardrail.NewContext("r1")
	req.Record(guardrail.PhasePreRequest, "prompt", "2 values pseudonymized")
	req.Record(guardrail.PhasePostResponse, "response", "values restored")

	s.RecordRequest(req, "pii")
	if len(s.entries) != 2 {
		t.Fatalf("Expected 2 queued entries, got %d", len(s.entries))
	}
	e := <-s.entries
	if e.RequestID != "r1" || e.Module != "pii" || e.Phase != "pre_request" {
		t.Errorf("Unexpected first entry: %+v", e)
	}
}
