package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/privacy"
)

func testDetector() *privacy.Detector {
	return privacy.New(privacy.Config{
		DetectEmails:       true,
		DetectPhones:       true,
		DetectNationalIDs:  true,
		DetectCredentials:  true,
		DetectPaymentCards: true,
		DetectIPAddresses:  true,
	}, zap.NewNop())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write corpus file: %v", err)
	}
	return path
}

func TestDetectFileFormat(t *testing.T) {
	tests := []struct {
		path     string
		expected FileFormat
	}{
		{"prompts.csv", FormatCSV},
		{"prompts.json", FormatJSON},
		{"prompts.jsonl", FormatJSON},
		{"prompts.parquet", FormatParquet},
		{"prompts.txt", FormatUnknown},
	}
	for _, tt := range tests {
		if got := DetectFileFormat(tt.path); got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.path, tt.expected, got)
		}
	}
}

func TestScanCSV(t *testing.T) {
	path := writeFile(t, "prompts.csv", `text,source
"contact alice@example.com",tickets
"nothing sensitive here",tickets
"card 4111111111111111 and bob@example.net",chat
`)

	s := NewScanner(testDetector(), Config{BatchSize: 2, Workers: 2}, zap.NewNop())
	result, err := s.ScanFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ScanFile failed: %v", err)
	}

	if result.TotalRecords != 3 {
		t.Errorf("Expected 3 records, got %d", result.TotalRecords)
	}
	if result.RecordsWithHits != 2 {
		t.Errorf("Expected 2 records with hits, got %d", result.RecordsWithHits)
	}
	if result.TotalFindings != 3 {
		t.Errorf("Expected 3 findings, got %d", result.TotalFindings)
	}
	if result.ByCategory["email"] != 2 {
		t.Errorf("Expected 2 email findings, got %d", result.ByCategory["email"])
	}
	if result.ByCategory["payment-card"] != 1 {
		t.Errorf("Expected 1 payment-card finding, got %d", result.ByCategory["payment-card"])
	}
}

func TestScanJSON(t *testing.T) {
	path := writeFile(t, "prompts.jsonl", `{"text":"ssh to 192.168.1.10 please"}
{"text":"hello world"}
{"text":""}
{"text":"ssn is 123-45-6789"}
`)

	s := NewScanner(testDetector(), Config{BatchSize: 10, Workers: 1}, zap.NewNop())
	result, err := s.ScanFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ScanFile failed: %v", err)
	}

	// Empty texts are skipped at read time.
	if result.TotalRecords != 3 {
		t.Errorf("Expected 3 records, got %d", result.TotalRecords)
	}
	if result.ByCategory["ip-address"] != 1 {
		t.Errorf("Expected 1 ip finding, got %d", result.ByCategory["ip-address"])
	}
	if result.ByCategory["national-id"] != 1 {
		t.Errorf("Expected 1 national-id finding, got %d", result.ByCategory["national-id"])
	}
}

func TestScanUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "prompts.txt", "plain text")
	s := NewScanner(testDetector(), Config{}, zap.NewNop())
	if _, err := s.ScanFile(context.Background(), path); err == nil {
		t.Error("Expected error for unsupported format")
	}
}
