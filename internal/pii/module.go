package pii

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/guardrail"
	"github.com/duckgate/duckgate/internal/privacy"
)

// pseudoKey carries the request's pseudonymizer across phases so placeholders
// issued during pre_request and pre_tool_input never collide, and so the
// restore phases can find the substitution table.
var pseudoKey = guardrail.NewKey[*privacy.Pseudonymizer]("pii.pseudonymizer")

// FindingSink receives detection notifications. Implementations must treat
// the arguments as the complete disclosure: categories and a count, never
// the detected values.
type FindingSink interface {
	Finding(requestID string, phase string, categories []string, count int)
}

// Redactor is the policy module that pseudonymizes sensitive values on the
// way into the model and optionally restores them on the way out. It holds
// no per-request state; everything request-scoped lives in the request
// context's metadata.
type Redactor struct {
	detector          *privacy.Detector
	priority          int
	restoreOnResponse bool
	logDetections     bool
	sink              FindingSink
	logger            *zap.Logger
}

// NewRedactor builds the module from configuration. The sink is optional.
func NewRedactor(cfg config.PrivacyConfig, sink FindingSink, logger *zap.Logger) *Redactor {
	patterns := make([]privacy.CustomPattern, 0, len(cfg.CustomPatterns))
	for _, cp := range cfg.CustomPatterns {
		patterns = append(patterns, privacy.CustomPattern{
			Name:        cp.Name,
			Pattern:     cp.Pattern,
			Placeholder: cp.Placeholder,
		})
	}

	detector := privacy.New(privacy.Config{
		DetectEmails:       cfg.DetectEmails,
		DetectPhones:       cfg.DetectPhones,
		DetectNationalIDs:  cfg.DetectNationalIDs,
		DetectCredentials:  cfg.DetectCredentials,
		DetectPaymentCards: cfg.DetectPaymentCards,
		DetectIPAddresses:  cfg.DetectIPAddresses,
		CustomPatterns:     patterns,
		Allowlist:          cfg.Allowlist,
		AllowlistDomains:   cfg.AllowlistDomains,
	}, logger)

	return &Redactor{
		detector:          detector,
		priority:          cfg.Priority,
		restoreOnResponse: cfg.RestoreOnResponse,
		logDetections:     cfg.LogDetections,
		sink:              sink,
		logger:            logger,
	}
}

func (r *Redactor) Name() string { return "pii" }

func (r *Redactor) Priority() int { return r.priority }

func (r *Redactor) Phases() []guardrail.Phase {
	return []guardrail.Phase{
		guardrail.PhasePreRequest,
		guardrail.PhasePostResponse,
		guardrail.PhasePreToolInput,
		guardrail.PhasePostToolOutput,
	}
}

// RuleCount exposes the number of active detection rules for the info endpoint.
func (r *Redactor) RuleCount() int { return r.detector.RuleCount() }

func (r *Redactor) Execute(ctx context.Context, phase guardrail.Phase, req *guardrail.Context) (guardrail.Outcome, error) {
	switch phase {
	case guardrail.PhasePreRequest:
		return r.redactPrompt(phase, req), nil
	case guardrail.PhasePreToolInput:
		return r.redactToolArgs(phase, req), nil
	case guardrail.PhasePostResponse:
		return r.restoreResponse(phase, req), nil
	case guardrail.PhasePostToolOutput:
		return r.restoreToolResult(phase, req), nil
	}
	return guardrail.Allow(), nil
}

func (r *Redactor) redactPrompt(phase guardrail.Phase, req *guardrail.Context) guardrail.Outcome {
	findings := r.detector.Detect(req.Prompt)
	if len(findings) == 0 {
		return guardrail.Allow()
	}

	req.SetPrompt(r.pseudonymizer(req).Pseudonymize(req.Prompt, findings))

	categories := privacy.Categories(findings)
	desc := fmt.Sprintf("%d sensitive values pseudonymized (%s)", len(findings), strings.Join(categories, ", "))
	req.Record(phase, "prompt", desc)
	r.notify(phase, req, categories, len(findings))
	return guardrail.Modify(desc)
}

// redactToolArgs pseudonymizes the serialized tool arguments. If the
// redacted text no longer parses as JSON the original structure is abandoned
// and the text is wrapped in a single fallback field; the original values
// must never leak through a parse failure.
func (r *Redactor) redactToolArgs(phase guardrail.Phase, req *guardrail.Context) guardrail.Outcome {
	if req.ToolArgs == nil {
		return guardrail.Allow()
	}

	text, structured, err := serialize(req.ToolArgs)
	if err != nil {
		r.logger.Warn("Tool arguments not serializable, skipping scan",
			zap.String("request_id", req.RequestID),
			zap.String("tool", req.ToolName),
			zap.Error(err),
		)
		return guardrail.Allow()
	}

	findings := r.detector.Detect(text)
	if len(findings) == 0 {
		return guardrail.Allow()
	}

	redacted := r.pseudonymizer(req).Pseudonymize(text, findings)
	req.ToolArgs = deserialize(redacted, structured)

	categories := privacy.Categories(findings)
	desc := fmt.Sprintf("%d sensitive values pseudonymized (%s)", len(findings), strings.Join(categories, ", "))
	req.Record(phase, "tool_args", desc)
	r.notify(phase, req, categories, len(findings))
	return guardrail.Modify(desc)
}

func (r *Redactor) restoreResponse(phase guardrail.Phase, req *guardrail.Context) guardrail.Outcome {
	table, ok := r.restoreTable(req)
	if !ok {
		return guardrail.Allow()
	}

	restored := privacy.Restore(req.Response, table)
	if restored == req.Response {
		return guardrail.Allow()
	}

	req.Response = restored
	req.Record(phase, "response", "pseudonymized values restored")
	return guardrail.Modify("pseudonymized values restored")
}

func (r *Redactor) restoreToolResult(phase guardrail.Phase, req *guardrail.Context) guardrail.Outcome {
	table, ok := r.restoreTable(req)
	if !ok || req.ToolResult == nil {
		return guardrail.Allow()
	}

	text, structured, err := serialize(req.ToolResult)
	if err != nil {
		return guardrail.Allow()
	}

	restored := privacy.Restore(text, table)
	if restored == text {
		return guardrail.Allow()
	}

	req.ToolResult = reparse(restored, structured)
	req.Record(phase, "tool_result", "pseudonymized values restored")
	return guardrail.Modify("pseudonymized values restored")
}

// pseudonymizer returns the request's pseudonymizer, creating and attaching
// one on first use.
func (r *Redactor) pseudonymizer(req *guardrail.Context) *privacy.Pseudonymizer {
	if p, ok := guardrail.Get(req, pseudoKey); ok {
		return p
	}
	p := privacy.NewPseudonymizer()
	guardrail.Set(req, pseudoKey, p)
	return p
}

// restoreTable returns the request's substitution table when restoration is
// enabled and something was pseudonymized earlier in this request.
func (r *Redactor) restoreTable(req *guardrail.Context) (privacy.Table, bool) {
	if !r.restoreOnResponse {
		return nil, false
	}
	p, ok := guardrail.Get(req, pseudoKey)
	if !ok || len(p.Table()) == 0 {
		return nil, false
	}
	return p.Table(), true
}

func (r *Redactor) notify(phase guardrail.Phase, req *guardrail.Context, categories []string, count int) {
	if r.logDetections {
		r.logger.Info("Sensitive values detected",
			zap.String("request_id", req.RequestID),
			zap.String("phase", string(phase)),
			zap.Strings("categories", categories),
			zap.Int("count", count),
		)
	}
	if r.sink != nil {
		r.sink.Finding(req.RequestID, string(phase), categories, count)
	}
}

// serialize flattens a tool payload to scannable text. Strings pass through;
// anything else is JSON-encoded.
func serialize(v any) (text string, structured bool, err error) {
	if s, ok := v.(string); ok {
		return s, false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// deserialize reverses serialize. A structured payload whose redacted text no
// longer parses is wrapped rather than dropped or exposed.
func deserialize(text string, structured bool) any {
	if !structured {
		return text
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return map[string]any{"_redacted": text}
	}
	return out
}

// reparse maps restored text back to the tool result shape. Restored values
// can break the structure (they may contain quotes or braces); in that case
// the raw text goes back as-is, since it carries the caller's real data.
func reparse(text string, structured bool) any {
	if !structured {
		return text
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return text
	}
	return out
}
