package privacy

import "regexp"

// rule is one compiled detection pattern with its fixed confidence.
// Confidence reflects format strictness: strict numeric formats and prefixed
// credentials score 0.95, looser heuristics score lower. It is reported for
// observability and tuning, never used as a gate.
type rule struct {
	category   Category
	label      string
	pattern    *regexp.Regexp
	confidence float64
}

// builtinRules lists the built-in patterns in discovery order. The order is
// part of the contract: findings at the same start offset keep this order,
// which keeps placeholder numbering stable across runs.
var builtinRules = []rule{
	{
		category:   CategoryEmail,
		label:      "EMAIL",
		pattern:    regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		confidence: 0.85,
	},
	{
		category:   CategoryPhone,
		label:      "PHONE",
		pattern:    regexp.MustCompile(`\b(?:\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`),
		confidence: 0.70,
	},
	{
		category:   CategoryNationalID,
		label:      "NATIONAL_ID",
		pattern:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		confidence: 0.95,
	},
	{
		category:   CategoryCredential,
		label:      "CREDENTIAL",
		pattern:    regexp.MustCompile(`\b(?:sk|pk|rk|ghp|glpat)-[A-Za-z0-9_\-]{16,}\b`),
		confidence: 0.95,
	},
	{
		category:   CategoryCredential,
		label:      "CREDENTIAL",
		pattern:    regexp.MustCompile(`(?i)\b(?:api[_-]?key|secret|token)\s*[:=]\s*[A-Za-z0-9._+/\-]{8,}`),
		confidence: 0.70,
	},
	{
		category:   CategoryPaymentCard,
		label:      "PAYMENT_CARD",
		pattern:    regexp.MustCompile(`\b(?:\d{4}[ -]?){3}\d{4}\b`),
		confidence: 0.95,
	},
	{
		category:   CategoryIPAddress,
		label:      "IP_ADDRESS",
		pattern:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		confidence: 0.80,
	},
}

// customConfidence is the fixed confidence assigned to custom pattern matches.
const customConfidence = 0.90

// enabled reports whether the rule's category is active in the config.
func (r rule) enabled(cfg Config) bool {
	switch r.category {
	case CategoryEmail:
		return cfg.DetectEmails
	case CategoryPhone:
		return cfg.DetectPhones
	case CategoryNationalID:
		return cfg.DetectNationalIDs
	case CategoryCredential:
		return cfg.DetectCredentials
	case CategoryPaymentCard:
		return cfg.DetectPaymentCards
	case CategoryIPAddress:
		return cfg.DetectIPAddresses
	default:
		return false
	}
}
