package protocol

import "regexp"

// NamePattern validates display names and room names: alphanumerics,
// underscore, hyphen, and CJK ideographs, at most 10 characters. The same
// pattern covers both so a room can be named after a user and vice versa.
const NamePattern = `^[A-Za-z0-9_\-\x{3400}-\x{9FFF}\x{F900}-\x{FAFF}]{1,10}$`

var nameRE = regexp.MustCompile(NamePattern)

// ValidName reports whether s is acceptable as a display name or room name.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}
