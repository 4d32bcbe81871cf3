// utils/normalize.go
package utils

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds a drug code or name into the canonical join key form:
// NFKC normalization (full-width alphanumerics become half-width), lower
// case, surrounding whitespace trimmed. Both the authoritative list and
// pharmacy exports mix widths freely, so every key comparison goes through
// this.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// NormalizeText applies the same folding but preserves case, for display
// fields that still need width normalization.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}
