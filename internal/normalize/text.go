// Package normalize cleans question text and coerces raw answers into the
// canonical form for their question type.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlock   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTag      = regexp.MustCompile(`<[^>]*>`)
	uploadNoise  = regexp.MustCompile(`点击上传.*`)
	newlineRuns  = regexp.MustCompile(`\n+`)
	spaceRuns    = regexp.MustCompile(` +`)
	whitespaceRx = regexp.MustCompile(`\s+`)
)

// StripMarkup removes script and style blocks, HTML tags and the upload
// widget text some course platforms append to question bodies.
func StripMarkup(s string) string {
	if s == "" {
		return ""
	}
	s = scriptBlock.ReplaceAllString(s, "")
	s = styleBlock.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, "")
	s = uploadNoise.ReplaceAllString(s, "")
	return s
}

// CleanText strips markup, trims, collapses newline and space runs and
// drops tabs. Line structure is preserved.
func CleanText(s string) string {
	s = StripMarkup(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimSpace(s)
	s = newlineRuns.ReplaceAllString(s, "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "\t", "")
	return s
}

// CollapseQuestion is the form used for identity: cleaned, NFC-normalized
// and with every whitespace run reduced to a single space. Case is kept.
func CollapseQuestion(s string) string {
	s = StripMarkup(s)
	s = norm.NFC.String(s)
	s = whitespaceRx.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
