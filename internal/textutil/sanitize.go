package textutil

import "strings"

// pathSegmentReplacer replaces filesystem-unsafe characters with safe alternatives.
var pathSegmentReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// SanitizePathSegment makes a show title safe to use as one directory name.
// Slashes, backslashes, colons, and asterisks become dashes; the
// remaining unsafe characters are removed. Runs of whitespace collapse to one
// space and trailing dots are dropped. Returns "" when nothing usable remains.
func SanitizePathSegment(name string) string {
	name = pathSegmentReplacer.Replace(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	name = strings.TrimRight(name, ". ")
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}
