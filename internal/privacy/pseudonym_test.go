package privacy

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestPseudonymizer(t *testing.T) {
	logger := zap.NewNop()

	t.Run("RoundTrip", func(t *testing.T) {
		d := New(allCategories(), logger)
		texts := []string{
			"contact me at alice@example.com",
			"key sk-abcdefghijklmnopqrst and card 4111111111111111",
			"ssn 123-45-6789, mail bob@corp.io, again bob@corp.io, ip 10.0.0.1",
			"no pii here at all",
			"",
		}
		for _, text := range texts {
			findings := d.Detect(text)
			redacted, table := Pseudonymize(text, findings)
			if restored := Restore(redacted, table); restored != text {
				t.Errorf("Round trip failed for %q: got %q", text, restored)
			}
		}
	})

	t.Run("RedactedTextContainsNoOriginals", func(t *testing.T) {
		d := New(Config{DetectEmails: true}, logger)
		text := "contact me at alice@example.com"
		redacted, table := Pseudonymize(text, d.Detect(text))
		if strings.Contains(redacted, "alice@example.com") {
			t.Errorf("Redacted text still contains original value: %q", redacted)
		}
		if got := strings.Count(redacted, "[[PII:EMAIL:1]]"); got != 1 {
			t.Errorf("Expected exactly one placeholder, got %d in %q", got, redacted)
		}
		if len(table) != 1 {
			t.Errorf("Expected table of size 1, got %d", len(table))
		}
	})

	t.Run("RestoreIdempotent", func(t *testing.T) {
		d := New(allCategories(), logger)
		text := "mail alice@example.com and ssn 123-45-6789"
		redacted, table := Pseudonymize(text, d.Detect(text))

		once := Restore(redacted, table)
		twice := Restore(once, table)
		if once != twice {
			t.Errorf("Restore is not idempotent: %q vs %q", once, twice)
		}
	})

	t.Run("RestoreEmptyTableNoOp", func(t *testing.T) {
		if got := Restore("some text", nil); got != "some text" {
			t.Errorf("Restore with nil table should be a no-op, got %q", got)
		}
		if got := Restore("some text", Table{}); got != "some text" {
			t.Errorf("Restore with empty table should be a no-op, got %q", got)
		}
	})

	t.Run("RestoreAllOccurrences", func(t *testing.T) {
		table := Table{"[[PII:EMAIL:1]]": "alice@example.com"}
		text := "first [[PII:EMAIL:1]] then [[PII:EMAIL:1]] again"
		want := "first alice@example.com then alice@example.com again"
		if got := Restore(text, table); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	})

	t.Run("RepeatedValueReusesPlaceholder", func(t *testing.T) {
		d := New(Config{DetectEmails: true}, logger)
		text := "bob@corp.io wrote to bob@corp.io"
		redacted, table := Pseudonymize(text, d.Detect(text))
		if len(table) != 1 {
			t.Errorf("Identical values should share one placeholder, table has %d entries", len(table))
		}
		if redacted != "[[PII:EMAIL:1]] wrote to [[PII:EMAIL:1]]" {
			t.Errorf("Unexpected redacted text: %q", redacted)
		}
	})

	t.Run("DistinctValuesNumberedInOrder", func(t *testing.T) {
		d := New(Config{DetectEmails: true}, logger)
		text := "a@x.io then b@x.io"
		redacted, _ := Pseudonymize(text, d.Detect(text))
		if redacted != "[[PII:EMAIL:1]] then [[PII:EMAIL:2]]" {
			t.Errorf("Unexpected placeholder numbering: %q", redacted)
		}
	})

	t.Run("CountersContinueAcrossCalls", func(t *testing.T) {
		d := New(Config{DetectEmails: true}, logger)
		p := NewPseudonymizer()

		first := p.Pseudonymize("a@x.io", d.Detect("a@x.io"))
		second := p.Pseudonymize("b@x.io", d.Detect("b@x.io"))
		if first != "[[PII:EMAIL:1]]" || second != "[[PII:EMAIL:2]]" {
			t.Errorf("Counters should continue across calls: %q, %q", first, second)
		}
		if len(p.Table()) != 2 {
			t.Errorf("Expected 2 table entries, got %d", len(p.Table()))
		}
	})

	t.Run("OverlappingFindingsTolerated", func(t *testing.T) {
		// Hand-built overlap: second finding starts inside the first span.
		findings := []Finding{
			{Category: CategoryPaymentCard, Label: "PAYMENT_CARD", Value: "4111 1111 1111 1111", Start: 5, End: 24, Confidence: 0.95},
			{Category: CategoryPhone, Label: "PHONE", Value: "1111 1111 111", Start: 10, End: 23, Confidence: 0.70},
		}
		text := "card 4111 1111 1111 1111 end"
		redacted, table := Pseudonymize(text, findings)
		if redacted != "card [[PII:PAYMENT_CARD:1]] end" {
			t.Errorf("Overlapped finding should be skipped, got %q", redacted)
		}
		if restored := Restore(redacted, table); restored != text {
			t.Errorf("Round trip with overlap failed: %q", restored)
		}
	})
}

func BenchmarkDetectAndPseudonymize(b *testing.B) {
	d := New(allCategories(), zap.NewNop())
	text := strings.Repeat("call 555-123-4567 or mail user@example.org, card 4111 1111 1111 1111. ", 32)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		findings := d.Detect(text)
		Pseudonymize(text, findings)
	}
}
