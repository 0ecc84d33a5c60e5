package guardrail

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// fakeModule is a configurable test module that records its invocations.
type fakeModule struct {
	name     string
	phases   []Phase
	priority int
	outcome  Outcome
	err      error
	panics   bool
	calls    *[]string
}

func (f *fakeModule) Name() string    { return f.name }
func (f *fakeModule) Phases() []Phase { return f.phases }
func (f *fakeModule) Priority() int   { return f.priority }

func (f *fakeModule) Execute(ctx context.Context, phase Phase, req *Context) (Outcome, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name)
	}
	if f.panics {
		panic("boom")
	}
	return f.outcome, f.err
}

func TestPipeline(t *testing.T) {
	logger := zap.NewNop()

	t.Run("PriorityOrdering", func(t *testing.T) {
		var calls []string
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "late", phases: []Phase{PhasePreRequest}, priority: 50, outcome: Allow(), calls: &calls})
		p.Register(&fakeModule{name: "early", phases: []Phase{PhasePreRequest}, priority: 5, outcome: Allow(), calls: &calls})
		p.Register(&fakeModule{name: "mid", phases: []Phase{PhasePreRequest}, priority: 25, outcome: Allow(), calls: &calls})

		result := p.Run(context.Background(), PhasePreRequest, NewContext("r1"))
		if result.Action != ActionAllow {
			t.Errorf("Expected allow, got %s", result.Action)
		}
		want := []string{"early", "mid", "late"}
		if len(calls) != 3 {
			t.Fatalf("Expected 3 calls, got %d", len(calls))
		}
		for i := range want {
			if calls[i] != want[i] {
				t.Errorf("Call %d: expected %s, got %s", i, want[i], calls[i])
			}
		}
	})

	t.Run("BlockShortCircuits", func(t *testing.T) {
		var calls []string
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "blocker", phases: []Phase{PhasePreRequest}, priority: 10, outcome: Block("denied"), calls: &calls})
		p.Register(&fakeModule{name: "never", phases: []Phase{PhasePreRequest}, priority: 20, outcome: Allow(), calls: &calls})

		result := p.Run(context.Background(), PhasePreRequest, NewContext("r1"))
		if result.Action != ActionBlock {
			t.Errorf("Expected block, got %s", result.Action)
		}
		if result.BlockedBy != "blocker" {
			t.Errorf("Expected blocked_by blocker, got %s", result.BlockedBy)
		}
		if result.Reason != "denied" {
			t.Errorf("Expected reason denied, got %s", result.Reason)
		}
		for _, c := range calls {
			if c == "never" {
				t.Error("Module after a block must never be invoked")
			}
		}
	})

	t.Run("ModifyAggregates", func(t *testing.T) {
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "m1", phases: []Phase{PhasePreRequest}, priority: 10, outcome: Modify("changed")})
		p.Register(&fakeModule{name: "m2", phases: []Phase{PhasePreRequest}, priority: 20, outcome: Allow()})

		result := p.Run(context.Background(), PhasePreRequest, NewContext("r1"))
		if result.Action != ActionModify {
			t.Errorf("Expected modify, got %s", result.Action)
		}
	})

	t.Run("PhaseSelection", func(t *testing.T) {
		var calls []string
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "pre-only", phases: []Phase{PhasePreRequest}, priority: 10, outcome: Allow(), calls: &calls})
		p.Register(&fakeModule{name: "post-only", phases: []Phase{PhasePostResponse}, priority: 10, outcome: Allow(), calls: &calls})

		p.Run(context.Background(), PhasePostResponse, NewContext("r1"))
		if len(calls) != 1 || calls[0] != "post-only" {
			t.Errorf("Only modules declaring the phase should run, got %v", calls)
		}
	})

	t.Run("ModuleErrorFailsClosed", func(t *testing.T) {
		var calls []string
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "faulty", phases: []Phase{PhasePreRequest}, priority: 10, err: errors.New("bug"), calls: &calls})
		p.Register(&fakeModule{name: "after", phases: []Phase{PhasePreRequest}, priority: 20, outcome: Allow(), calls: &calls})

		result := p.Run(context.Background(), PhasePreRequest, NewContext("r1"))
		if result.Action != ActionBlock {
			t.Errorf("Module error must block, got %s", result.Action)
		}
		if result.BlockedBy != "faulty" {
			t.Errorf("Expected blocked_by faulty, got %s", result.BlockedBy)
		}
		for _, c := range calls {
			if c == "after" {
				t.Error("Chain must halt on module failure")
			}
		}
	})

	t.Run("ModulePanicFailsClosed", func(t *testing.T) {
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "crasher", phases: []Phase{PhasePreRequest}, priority: 10, panics: true})

		result := p.Run(context.Background(), PhasePreRequest, NewContext("r1"))
		if result.Action != ActionBlock {
			t.Errorf("Module panic must block, got %s", result.Action)
		}
		if result.BlockedBy != "crasher" {
			t.Errorf("Expected blocked_by crasher, got %s", result.BlockedBy)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		var calls []string
		p := NewPipeline(logger)
		p.Register(&fakeModule{name: "m", phases: []Phase{PhasePreRequest}, priority: 10, outcome: Allow(), calls: &calls})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := p.Run(ctx, PhasePreRequest, NewContext("r1"))
		if result.Action != ActionBlock {
			t.Errorf("Cancelled context must abandon the phase, got %s", result.Action)
		}
		if len(calls) != 0 {
			t.Error("No module should run after cancellation")
		}
	})

	t.Run("EmptyPhaseAllows", func(t *testing.T) {
		p := NewPipeline(logger)
		result := p.Run(context.Background(), PhasePreToolInput, NewContext("r1"))
		if result.Action != ActionAllow {
			t.Errorf("Empty chain should allow, got %s", result.Action)
		}
	})
}
