package privacy

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func allCategories() Config {
	return Config{
		DetectEmails:       true,
		DetectPhones:       true,
		DetectNationalIDs:  true,
		DetectCredentials:  true,
		DetectPaymentCards: true,
		DetectIPAddresses:  true,
	}
}

func TestDetector(t *testing.T) {
	logger := zap.NewNop()

	t.Run("CleanInput", func(t *testing.T) {
		d := New(allCategories(), logger)
		findings := d.Detect("hello world")
		if len(findings) != 0 {
			t.Errorf("Expected no findings for clean input, got %d", len(findings))
		}
	})

	t.Run("EmailDetection", func(t *testing.T) {
		d := New(Config{DetectEmails: true}, logger)
		findings := d.Detect("contact me at alice@example.com")
		if len(findings) != 1 {
			t.Fatalf("Expected 1 finding, got %d", len(findings))
		}
		f := findings[0]
		if f.Category != CategoryEmail {
			t.Errorf("Expected category email, got %s", f.Category)
		}
		if f.Value != "alice@example.com" {
			t.Errorf("Expected value alice@example.com, got %q", f.Value)
		}
		if got := "contact me at alice@example.com"[f.Start:f.End]; got != f.Value {
			t.Errorf("Span does not cover value: %q", got)
		}
	})

	t.Run("CredentialThenCard", func(t *testing.T) {
		d := New(Config{DetectCredentials: true, DetectPaymentCards: true}, logger)
		findings := d.Detect("key sk-abcdefghijklmnopqrst and card 4111111111111111")
		if len(findings) != 2 {
			t.Fatalf("Expected 2 findings, got %d: %+v", len(findings), findings)
		}
		if findings[0].Category != CategoryCredential {
			t.Errorf("Expected first finding api-credential, got %s", findings[0].Category)
		}
		if findings[1].Category != CategoryPaymentCard {
			t.Errorf("Expected second finding payment-card, got %s", findings[1].Category)
		}
		if findings[0].Start >= findings[1].Start {
			t.Error("Credential finding should start before payment card finding")
		}
		for _, f := range findings {
			if f.Confidence <= 0.9 {
				t.Errorf("Expected confidence above 0.9 for %s, got %f", f.Category, f.Confidence)
			}
		}
	})

	t.Run("NationalID", func(t *testing.T) {
		d := New(Config{DetectNationalIDs: true}, logger)
		findings := d.Detect("ssn is 123-45-6789 on file")
		if len(findings) != 1 {
			t.Fatalf("Expected 1 finding, got %d", len(findings))
		}
		if findings[0].Confidence != 0.95 {
			t.Errorf("Strict numeric format should score 0.95, got %f", findings[0].Confidence)
		}
	})

	t.Run("LooseCredentialConfidence", func(t *testing.T) {
		d := New(Config{DetectCredentials: true}, logger)
		findings := d.Detect("api_key=supersecretvalue123")
		if len(findings) != 1 {
			t.Fatalf("Expected 1 finding, got %d", len(findings))
		}
		if findings[0].Confidence != 0.70 {
			t.Errorf("Loose credential variant should score 0.70, got %f", findings[0].Confidence)
		}
	})

	t.Run("AllowlistSuppression", func(t *testing.T) {
		cfg := allCategories()
		cfg.Allowlist = []string{"Alice@Example.com"}
		d := New(cfg, logger)
		findings := d.Detect("contact me at alice@example.com")
		for _, f := range findings {
			if f.Value == "alice@example.com" {
				t.Error("Allowlisted value should never be reported")
			}
		}
	})

	t.Run("DomainAllowlistScope", func(t *testing.T) {
		cfg := allCategories()
		cfg.AllowlistDomains = []string{"example.com"}
		d := New(cfg, logger)

		findings := d.Detect("user@example.com")
		if len(findings) != 0 {
			t.Errorf("Email with allowlisted domain should be suppressed, got %+v", findings)
		}

		// Domain allowlisting only applies to the email category.
		findings = d.Detect("user@other.org and ip 10.0.0.1")
		var sawEmail, sawIP bool
		for _, f := range findings {
			if f.Category == CategoryEmail {
				sawEmail = true
			}
			if f.Category == CategoryIPAddress {
				sawIP = true
			}
		}
		if !sawEmail || !sawIP {
			t.Errorf("Non-allowlisted categories should still be detected: %+v", findings)
		}
	})

	t.Run("DeterministicOrdering", func(t *testing.T) {
		d := New(allCategories(), logger)
		text := "mail bob@corp.io, ip 192.168.0.1, ssn 123-45-6789, card 4111 1111 1111 1111"
		first := d.Detect(text)
		for i := 0; i < 10; i++ {
			findings := d.Detect(text)
			if len(findings) != len(first) {
				t.Fatalf("Finding count changed across runs: %d vs %d", len(findings), len(first))
			}
			for j := range findings {
				if findings[j] != first[j] {
					t.Fatalf("Finding %d differs across runs: %+v vs %+v", j, findings[j], first[j])
				}
			}
			for j := 1; j < len(findings); j++ {
				if findings[j].Start < findings[j-1].Start {
					t.Error("Findings must be non-decreasing in start offset")
				}
			}
		}
	})

	t.Run("CustomPatterns", func(t *testing.T) {
		cfg := Config{
			CustomPatterns: []CustomPattern{
				{Name: "employee-id", Pattern: `\bEMP-\d{6}\b`, Placeholder: "EMPLOYEE_ID"},
			},
		}
		d := New(cfg, logger)
		findings := d.Detect("badge EMP-004211 reported")
		if len(findings) != 1 {
			t.Fatalf("Expected 1 finding, got %d", len(findings))
		}
		if findings[0].Category != CategoryCustom {
			t.Errorf("Expected category custom, got %s", findings[0].Category)
		}
		if findings[0].Confidence != 0.90 {
			t.Errorf("Custom patterns score a fixed 0.90, got %f", findings[0].Confidence)
		}
		if findings[0].Label != "EMPLOYEE_ID" {
			t.Errorf("Expected label EMPLOYEE_ID, got %s", findings[0].Label)
		}
	})

	t.Run("CustomPatternExactAllowlistOnly", func(t *testing.T) {
		cfg := Config{
			CustomPatterns: []CustomPattern{
				{Name: "corp-mail", Pattern: `\b\w+@example\.com\b`},
			},
			Allowlist:        []string{"ceo@example.com"},
			AllowlistDomains: []string{"example.com"},
		}
		d := New(cfg, logger)

		// Exact-value allowlisting applies to custom patterns.
		if findings := d.Detect("ceo@example.com"); len(findings) != 0 {
			t.Errorf("Exact allowlist should suppress custom match, got %+v", findings)
		}
		// Domain allowlisting does not.
		if findings := d.Detect("dev@example.com"); len(findings) != 1 {
			t.Errorf("Domain allowlist must not apply to custom patterns, got %+v", findings)
		}
	})

	t.Run("MalformedCustomPatternDropped", func(t *testing.T) {
		cfg := Config{
			DetectEmails: true,
			CustomPatterns: []CustomPattern{
				{Name: "broken", Pattern: `([unclosed`},
				{Name: "ok", Pattern: `\bOK-\d+\b`},
			},
		}
		d := New(cfg, logger)
		if d.RuleCount() != 2 {
			t.Errorf("Expected 2 active rules (email + ok), got %d", d.RuleCount())
		}
		findings := d.Detect("ref OK-12 sent to a@b.io")
		if len(findings) != 2 {
			t.Errorf("Surviving rules should still detect, got %+v", findings)
		}
	})

	t.Run("InputSizeBound", func(t *testing.T) {
		cfg := Config{DetectEmails: true, MaxScanBytes: 64}
		d := New(cfg, logger)
		text := strings.Repeat("x", 100) + " a@b.io"
		if findings := d.Detect(text); len(findings) != 0 {
			t.Errorf("Matches past the scan bound should not be reported, got %+v", findings)
		}
	})
}
