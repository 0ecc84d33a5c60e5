package privacy

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const defaultMaxScanBytes = 1 << 20

// Detector scans text for sensitive values. It is stateless after
// construction and safe for concurrent use by any number of requests.
type Detector struct {
	rules        []rule
	allow        map[string]struct{}
	allowDomains map[string]struct{}
	maxScanBytes int
	logger       *zap.Logger
}

// New creates a detector from the given configuration. A custom pattern that
// fails to compile is dropped with a warning rather than failing construction.
func New(cfg Config, log *zap.Logger) *Detector {
	d := &Detector{
		allow:        make(map[string]struct{}, len(cfg.Allowlist)),
		allowDomains: make(map[string]struct{}, len(cfg.AllowlistDomains)),
		maxScanBytes: cfg.MaxScanBytes,
		logger:       log,
	}

	if d.maxScanBytes == 0 {
		d.maxScanBytes = defaultMaxScanBytes
	}

	for _, v := range cfg.Allowlist {
		d.allow[strings.ToLower(v)] = struct{}{}
	}
	for _, v := range cfg.AllowlistDomains {
		d.allowDomains[strings.ToLower(v)] = struct{}{}
	}

	for _, r := range builtinRules {
		if r.enabled(cfg) {
			d.rules = append(d.rules, r)
		}
	}

	// Custom patterns scan after all built-ins.
	for _, cp := range cfg.CustomPatterns {
		re, err := regexp.Compile(cp.Pattern)
		if err != nil {
			log.Warn("Dropping custom pattern that failed to compile",
				zap.String("pattern_name", cp.Name),
				zap.Error(err),
			)
			continue
		}
		d.rules = append(d.rules, rule{
			category:   CategoryCustom,
			label:      customLabel(cp),
			pattern:    re,
			confidence: customConfidence,
		})
	}

	log.Info("Privacy detector initialized",
		zap.Int("active_rules", len(d.rules)),
		zap.Int("allowlist_size", len(d.allow)),
		zap.Int("allowlist_domains", len(d.allowDomains)),
	)

	return d
}

// Detect scans text and returns findings sorted ascending by start offset;
// findings at the same offset keep the discovery order of the rule set.
// Overlapping spans from different categories are reported as-is.
func (d *Detector) Detect(text string) []Finding {
	scan := text
	if d.maxScanBytes > 0 && len(scan) > d.maxScanBytes {
		scan = scan[:d.maxScanBytes]
	}

	var findings []Finding
	for _, r := range d.rules {
		locs := r.pattern.FindAllStringIndex(scan, -1)
		for _, loc := range locs {
			value := scan[loc[0]:loc[1]]
			if _, ok := d.allow[strings.ToLower(value)]; ok {
				continue
			}
			if r.category == CategoryEmail && d.domainAllowed(value) {
				continue
			}
			findings = append(findings, Finding{
				Category:   r.category,
				Label:      r.label,
				Value:      value,
				Start:      loc[0],
				End:        loc[1],
				Confidence: r.confidence,
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Start < findings[j].Start
	})

	return findings
}

// RuleCount returns the number of active rules, for the info endpoint.
func (d *Detector) RuleCount() int {
	return len(d.rules)
}

// domainAllowed reports whether an email value's domain is allowlisted.
// Applies only to the email category; custom patterns are exempt.
func (d *Detector) domainAllowed(email string) bool {
	if len(d.allowDomains) == 0 {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	_, ok := d.allowDomains[strings.ToLower(email[at+1:])]
	return ok
}

// customLabel derives the placeholder label for a custom pattern.
func customLabel(cp CustomPattern) string {
	label := cp.Placeholder
	if label == "" {
		label = cp.Name
	}
	label = strings.ToUpper(label)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, label)
}
