package rename

import (
	"regexp"
	"strings"
)

// invalidChars matches the C0 control range plus the BOM; newlines are
// turned into spaces before this strips the rest, so sanitizing is
// idempotent.
var invalidChars = regexp.MustCompile(`[\x00-\x1f\x{feff}]`)

// Sanitize normalizes a requested title: newlines collapse to spaces,
// remaining control characters and the BOM are dropped.
func Sanitize(title string) string {
	title = strings.ReplaceAll(title, "\n", " ")
	return invalidChars.ReplaceAllString(title, "")
}
