package security

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/guardrail"
)

// Blocklist is a coarse word/phrase denylist. It rejects prompts containing
// a blocked term outright and masks blocked terms that surface in backend
// responses. It runs ahead of the finer-grained modules.
type Blocklist struct {
	words    []string
	maskWith string
	priority int
	logger   *zap.Logger
}

// NewBlocklist builds the module. An empty word list is a configuration
// error: the module would only add latency.
func NewBlocklist(cfg config.BlocklistConfig, logger *zap.Logger) (*Blocklist, error) {
	if len(cfg.Words) == 0 {
		return nil, fmt.Errorf("blocklist enabled with no words configured")
	}

	words := make([]string, 0, len(cfg.Words))
	for _, w := range cfg.Words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			words = append(words, w)
		}
	}

	maskWith := cfg.MaskWith
	if maskWith == "" {
		maskWith = "[BLOCKED]"
	}

	return &Blocklist{
		words:    words,
		maskWith: maskWith,
		priority: cfg.Priority,
		logger:   logger,
	}, nil
}

func (b *Blocklist) Name() string { return "blocklist" }

func (b *Blocklist) Priority() int { return b.priority }

func (b *Blocklist) Phases() []guardrail.Phase {
	return []guardrail.Phase{guardrail.PhasePreRequest, guardrail.PhasePostResponse}
}

func (b *Blocklist) Execute(ctx context.Context, phase guardrail.Phase, req *guardrail.Context) (guardrail.Outcome, error) {
	switch phase {
	case guardrail.PhasePreRequest:
		if word := b.match(req.Prompt); word != "" {
			b.logger.Info("Prompt contains blocked term",
				zap.String("request_id", req.RequestID),
				zap.String("term", word),
			)
			return guardrail.Block("prompt contains a blocked term"), nil
		}
		return guardrail.Allow(), nil

	case guardrail.PhasePostResponse:
		masked, n := b.mask(req.Response)
		if n == 0 {
			return guardrail.Allow(), nil
		}
		req.Response = masked
		desc := fmt.Sprintf("%d blocked terms masked", n)
		req.Record(phase, "response", desc)
		return guardrail.Modify(desc), nil
	}

	return guardrail.Allow(), nil
}

// match returns the first blocked term found in text, or "".
func (b *Blocklist) match(text string) string {
	lower := strings.ToLower(text)
	for _, w := range b.words {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return ""
}

// mask replaces every case-insensitive occurrence of each blocked term and
// returns the rewritten text with the replacement count.
func (b *Blocklist) mask(text string) (string, int) {
	total := 0
	for _, w := range b.words {
		text, total = maskTerm(text, w, b.maskWith, total)
	}
	return text, total
}

func maskTerm(text, term, mask string, count int) (string, int) {
	lower := strings.ToLower(text)
	var out strings.Builder
	cursor := 0
	for {
		i := strings.Index(lower[cursor:], term)
		if i < 0 {
			break
		}
		i += cursor
		out.WriteString(text[cursor:i])
		out.WriteString(mask)
		cursor = i + len(term)
		count++
	}
	if cursor == 0 {
		return text, count
	}
	out.WriteString(text[cursor:])
	return out.String(), count
}
