package privacy

import "sort"

// Category identifies the kind of sensitive value a finding covers.
type Category string

const (
	CategoryEmail       Category = "email"
	CategoryPhone       Category = "phone"
	CategoryNationalID  Category = "national-id"
	CategoryCredential  Category = "api-credential"
	CategoryPaymentCard Category = "payment-card"
	CategoryIPAddress   Category = "ip-address"
	CategoryCustom      Category = "custom"
)

// Finding represents one detected span of sensitive content.
// Offsets index into the text passed to Detect; Value is the exact match.
type Finding struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	Value      string   `json:"-"` // never serialized
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Confidence float64  `json:"confidence"`
}

// CustomPattern declares a user-supplied detection pattern. Placeholder, if
// set, overrides the label used in generated placeholder tokens.
type CustomPattern struct {
	Name        string
	Pattern     string
	Placeholder string
}

// Config enumerates which built-in categories are active and supplies the
// allowlists and custom patterns applied during detection.
type Config struct {
	DetectEmails       bool
	DetectPhones       bool
	DetectNationalIDs  bool
	DetectCredentials  bool
	DetectPaymentCards bool
	DetectIPAddresses  bool
	CustomPatterns     []CustomPattern
	Allowlist          []string
	AllowlistDomains   []string
	// MaxScanBytes bounds pattern evaluation on oversized inputs. Zero means
	// the default bound (1 MiB); negative disables the bound.
	MaxScanBytes int
}

// Categories returns the sorted distinct categories present in findings.
// Used for audit entries and detection logs, which must never carry values.
func Categories(findings []Finding) []string {
	seen := make(map[string]struct{}, len(findings))
	for _, f := range findings {
		seen[string(f.Category)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
