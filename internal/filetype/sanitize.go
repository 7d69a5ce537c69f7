package filetype

import "strings"

// MaxFilenameLen is the longest filename SanitizeFilename returns.
const MaxFilenameLen = 200

// SanitizeFilename makes a caller-supplied name safe for a quoted
// Content-Disposition parameter and for common filesystems.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	n := 0
	for _, r := range name {
		if n == MaxFilenameLen {
			break
		}
		switch {
		case r == '"' || r == '\'' || r == '\r' || r == '\n' || r == '\\':
			continue
		case isFilenameRune(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		n++
	}
	return b.String()
}

func isFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == '(' || r == ')' || r == ' ':
		return true
	}
	return false
}
