// Package reconcile maps message records onto on-screen anchors: a direct
// identity-attribute pass, then a structural pass over the message blocks
// of the response card.
package reconcile

import (
	"regexp"
	"strings"
)

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]*`")
	mdImageRe    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLinkRe     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisRe   = regexp.MustCompile(`[*_~#>]+`)
)

// NormalizeText lowers the text, strips markdown markup (code, emphasis,
// links keep their label, images keep their alt) and collapses whitespace.
// Pure; both the message side and the scraped block side go through it so
// the substring comparisons see the same shape.
func NormalizeText(s string) string {
	s = codeFenceRe.ReplaceAllString(s, " ")
	s = inlineCodeRe.ReplaceAllString(s, " ")
	s = mdImageRe.ReplaceAllString(s, "$1")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = emphasisRe.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// prefix returns the first n characters of s, whole string when shorter.
func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
