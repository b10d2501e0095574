package textproc

import (
	"regexp"
	"strings"
)

var (
	manyNewlines = regexp.MustCompile(`\n{3,}`)
	manySpaces   = regexp.MustCompile(`[ \t]{2,}`)
)

// Normalize cleans raw extracted text: runs of spaces and tabs collapse
// to a single space, three or more newlines collapse to a paragraph
// break, each line is trimmed, and the whole string is trimmed. PDF
// extractors emit all of these irregularities routinely.
//
// Empty input yields empty output; the caller decides whether that
// means "no content".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = manyNewlines.ReplaceAllString(s, "\n\n")
	s = manySpaces.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
