// Package filetype infers download extensions and filenames from upstream
// metadata and leading body bytes.
package filetype

import (
	"net/url"
	"strings"
)

// NormalizeURL strips the surrounding whitespace that browsers ignore.
func NormalizeURL(s string) string {
	return strings.TrimSpace(s)
}

// IsValidHTTPURL reports whether s is an absolute http or https URL with a
// host. Leading and trailing whitespace is ignored.
func IsValidHTTPURL(s string) bool {
	s = NormalizeURL(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	// url.Parse lower-cases the scheme.
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && u.Opaque == ""
}
