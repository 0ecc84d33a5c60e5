package privacy

import (
	"fmt"
	"sort"
	"strings"
)

// Table maps placeholder tokens to the original values they replaced.
// A table belongs to one request and must never be logged or persisted.
type Table map[string]string

// Pseudonymizer replaces findings with reversible placeholder tokens and
// accumulates the substitution table needed to invert them. Counters are
// scoped to the instance, so one pseudonymizer carried across the phases of
// a request never issues colliding placeholders.
//
// Identical (label, value) pairs reuse the same placeholder: the model sees
// one token per entity and the table stays minimal.
type Pseudonymizer struct {
	counters map[string]int
	byValue  map[string]string
	table    Table
}

// NewPseudonymizer creates an empty pseudonymizer.
func NewPseudonymizer() *Pseudonymizer {
	return &Pseudonymizer{
		counters: make(map[string]int),
		byValue:  make(map[string]string),
		table:    make(Table),
	}
}

// Pseudonymize replaces each finding's span with a placeholder token.
// Findings must be sorted ascending by start offset (Detect's output order);
// the text is rebuilt in a single pass over the original offsets, so earlier
// replacements never shift later spans. A finding overlapped by an already
// replaced span is skipped.
func (p *Pseudonymizer) Pseudonymize(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, f := range findings {
		if f.Start < cursor || f.End > len(text) {
			continue
		}
		b.WriteString(text[cursor:f.Start])
		b.WriteString(p.placeholder(f))
		cursor = f.End
	}
	b.WriteString(text[cursor:])
	return b.String()
}

// Table returns the accumulated substitution table.
func (p *Pseudonymizer) Table() Table {
	return p.table
}

// placeholder returns the token for a finding, issuing a new one for values
// not seen before. Tokens are namespaced and type-tagged so they cannot
// collide with plausible application content.
func (p *Pseudonymizer) placeholder(f Finding) string {
	key := f.Label + "\x00" + f.Value
	if ph, ok := p.byValue[key]; ok {
		return ph
	}
	p.counters[f.Label]++
	ph := fmt.Sprintf("[[PII:%s:%d]]", f.Label, p.counters[f.Label])
	p.byValue[key] = ph
	p.table[ph] = f.Value
	return ph
}

// Pseudonymize is the one-shot form: it redacts text with a fresh
// pseudonymizer and returns the redacted text with its substitution table.
func Pseudonymize(text string, findings []Finding) (string, Table) {
	p := NewPseudonymizer()
	redacted := p.Pseudonymize(text, findings)
	return redacted, p.table
}

// Restore replaces every occurrence of each placeholder in text with its
// original value. It is idempotent: restored values never look like
// placeholders of the same scheme, so a second pass is a no-op. An empty or
// nil table returns the input unchanged.
func Restore(text string, table Table) string {
	if len(table) == 0 {
		return text
	}

	// Iterate in sorted key order for deterministic output.
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		text = strings.ReplaceAll(text, k, table[k])
	}
	return text
}
