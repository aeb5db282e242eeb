package stats

import (
	"regexp"
	"strings"
)

var (
	legalSuffix = regexp.MustCompile(`(?i)[\s,]+(s\.?\s*a\.?\s*de\s*c\.?\s*v\.?|s\.?\s*c\.?|a\.?\s*c\.?)\s*$`)
	punctuation = regexp.MustCompile(`[.,;:]+`)
)

// NormalizeName builds the deduplication key for certifier and training
// centre names: lower-cased, trailing legal-form suffix removed, punctuation
// dropped and whitespace collapsed. Accents are kept.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return ""
	}
	n = legalSuffix.ReplaceAllString(n, "")
	n = punctuation.ReplaceAllString(n, "")
	return strings.Join(strings.Fields(n), " ")
}

// sectorKey folds a sector label for grouping. The first label seen for a key
// is the one reported.
func sectorKey(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}
