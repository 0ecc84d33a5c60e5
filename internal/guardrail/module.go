package guardrail

import "context"

// Action is a module's decision for one phase.
type Action string

const (
	// ActionAllow means the module made no change.
	ActionAllow Action = "allow"
	// ActionModify means the module mutated the request context and
	// recorded an audit entry for the change.
	ActionModify Action = "modify"
	// ActionBlock means the request must not proceed; terminal for the phase.
	ActionBlock Action = "block"
)

// Outcome is the result of one module execution.
type Outcome struct {
	Action Action
	Reason string
}

// Convenience outcomes.
func Allow() Outcome               { return Outcome{Action: ActionAllow} }
func Modify(reason string) Outcome { return Outcome{Action: ActionModify, Reason: reason} }
func Block(reason string) Outcome  { return Outcome{Action: ActionBlock, Reason: reason} }

// Module is one pluggable policy unit. Implementations must be safe for
// concurrent Execute calls across requests, must not retain the request
// context beyond the call, and must return Allow for phases outside their
// declared set.
//
// Construction-time validation takes the place of a separate initialize
// step: a module constructor returns an error on invalid configuration.
type Module interface {
	// Name returns the module's unique identifier.
	Name() string

	// Phases returns the lifecycle phases the module participates in.
	Phases() []Phase

	// Priority orders modules within a phase; lower runs first.
	Priority() int

	// Execute runs the module's policy for one phase against the shared
	// request context. It must respect ctx cancellation.
	Execute(ctx context.Context, phase Phase, req *Context) (Outcome, error)
}
