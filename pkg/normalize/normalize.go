// Package normalize rewrites spoken punctuation into symbols for
// dictated transcripts.
package normalize

import (
	"regexp"
	"strings"
)

type rule struct {
	re  *regexp.Regexp
	sub string
}

// Longer phrases are listed before their short forms so that a phrase is
// never partially consumed by one of its words.
var spokenTokens = []rule{
	{regexp.MustCompile(`(?i)\bfull stop\b`), "."},
	{regexp.MustCompile(`(?i)\bexclamation (?:mark|point)\b`), "!"},
	{regexp.MustCompile(`(?i)\bquestion mark\b`), "?"},
	{regexp.MustCompile(`(?i)\bsemi[ -]?colon\b`), ";"},
	{regexp.MustCompile(`(?i)\bnew paragraph\b`), "\n\n"},
	{regexp.MustCompile(`(?i)\bnew line\b`), "\n"},
	{regexp.MustCompile(`(?i)\bperiod\b`), "."},
	{regexp.MustCompile(`(?i)\bcomma\b`), ","},
	{regexp.MustCompile(`(?i)\bcolon\b`), ":"},
}

var (
	horizontalWS    = regexp.MustCompile(`[ \t]+`)
	wsBeforePunct   = regexp.MustCompile(`\s+([.,?!:;])`)
	punctNoSpace    = regexp.MustCompile(`([.,?!:;])([^\s])`)
	wsAroundNewline = regexp.MustCompile(`[ \t]*\n[ \t]*`)
)

// Normalize replaces spoken punctuation tokens with their symbols and
// tidies the whitespace around them: no space before punctuation, exactly
// one space after unless end-of-string or newline follows, single spaces
// elsewhere, trimmed ends. Empty input is returned unchanged. The function
// is pure and safe for concurrent use.
func Normalize(text string) string {
	if text == "" {
		return text
	}
	out := text
	for _, r := range spokenTokens {
		out = r.re.ReplaceAllString(out, r.sub)
	}
	out = horizontalWS.ReplaceAllString(out, " ")
	out = wsBeforePunct.ReplaceAllString(out, "$1")
	out = punctNoSpace.ReplaceAllString(out, "$1 $2")
	out = wsAroundNewline.ReplaceAllString(out, "\n")
	return strings.TrimSpace(out)
}
