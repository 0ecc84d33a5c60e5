package guardrail

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Result is the aggregated outcome of running one phase's module chain.
type Result struct {
	Action    Action `json:"action"`
	BlockedBy string `json:"blocked_by,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Pipeline orchestrates policy modules. For a given phase it runs every
// registered module whose phase set includes it, sequentially in ascending
// priority order, threading the shared request context through them.
// Registration is static: Register is not safe to call once requests are
// being served.
type Pipeline struct {
	modules map[Phase][]Module
	logger  *zap.Logger
}

// NewPipeline creates an empty pipeline.
func NewPipeline(logger *zap.Logger) *Pipeline {
	return &Pipeline{
		modules: make(map[Phase][]Module),
		logger:  logger,
	}
}

// Register adds a module to every phase it declares, keeping each phase's
// chain sorted by priority (lower first, stable for equal priorities).
func (p *Pipeline) Register(m Module) {
	for _, phase := range m.Phases() {
		if !phase.Valid() {
			p.logger.Warn("Module declares unknown phase, skipping",
				zap.String("module", m.Name()),
				zap.String("phase", string(phase)),
			)
			continue
		}
		chain := append(p.modules[phase], m)
		sort.SliceStable(chain, func(i, j int) bool {
			return chain[i].Priority() < chain[j].Priority()
		})
		p.modules[phase] = chain
	}

	p.logger.Info("Policy module registered",
		zap.String("module", m.Name()),
		zap.Int("priority", m.Priority()),
		zap.Int("phases", len(m.Phases())),
	)
}

// ModuleCount returns the number of modules registered for a phase.
func (p *Pipeline) ModuleCount(phase Phase) int {
	return len(p.modules[phase])
}

// Run executes one phase's module chain against the request context.
// Modules run sequentially so later modules observe earlier mutations.
// A Block outcome halts the chain immediately. A module error or panic is
// fail-closed: it blocks the request for this phase and never propagates
// to other in-flight requests.
func (p *Pipeline) Run(ctx context.Context, phase Phase, req *Context) Result {
	result := Result{Action: ActionAllow}

	for _, m := range p.modules[phase] {
		select {
		case <-ctx.Done():
			return Result{Action: ActionBlock, BlockedBy: "pipeline", Reason: ctx.Err().Error()}
		default:
		}

		outcome, err := p.execute(ctx, m, phase, req)
		if err != nil {
			p.logger.Error("Policy module failed, blocking request",
				zap.String("module", m.Name()),
				zap.String("phase", string(phase)),
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
			return Result{Action: ActionBlock, BlockedBy: m.Name(), Reason: "policy module failure"}
		}

		switch outcome.Action {
		case ActionBlock:
			p.logger.Info("Request blocked by policy module",
				zap.String("module", m.Name()),
				zap.String("phase", string(phase)),
				zap.String("request_id", req.RequestID),
				zap.String("reason", outcome.Reason),
			)
			return Result{Action: ActionBlock, BlockedBy: m.Name(), Reason: outcome.Reason}
		case ActionModify:
			result.Action = ActionModify
		}
	}

	return result
}

// execute invokes one module, converting a panic into an error so a faulty
// module cannot take down the pipeline.
func (p *Pipeline) execute(ctx context.Context, m Module, phase Phase, req *Context) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module panic: %v", r)
		}
	}()
	return m.Execute(ctx, phase, req)
}
