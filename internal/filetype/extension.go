package filetype

import (
	"net/url"
	"regexp"
	"strings"
)

// Signal names the input an extension was inferred from.
type Signal string

const (
	SignalNone        Signal = ""
	SignalDisposition Signal = "disposition"
	SignalPath        Signal = "path"
	SignalContentType Signal = "content_type"
	SignalSniff       Signal = "sniff"
	SignalFallback    Signal = "fallback"
)

// FallbackExtension is used when no signal yields an extension.
const FallbackExtension = "bin"

var (
	dispositionFilename = regexp.MustCompile(`(?i)filename\*?=(?:UTF-8'')?["']?([^;"']+)`)
	trailingExtension   = regexp.MustCompile(`(?i)\.([a-z0-9]{2,5})$`)
)

// Hints carries the metadata available before any body byte is read.
type Hints struct {
	URL                string
	ContentDisposition string
	ContentType        string
}

// Resolve walks the header-derived part of the priority chain:
// disposition filename, then URL path, then content type. It returns an
// empty extension and SignalNone when the body has to be sniffed.
func Resolve(h Hints) (string, Signal) {
	if ext := FromContentDisposition(h.ContentDisposition); ext != "" {
		return ext, SignalDisposition
	}
	if ext := FromURLPath(h.URL); ext != "" {
		return ext, SignalPath
	}
	if ext := FromContentType(h.ContentType); ext != "" {
		return ext, SignalContentType
	}
	return "", SignalNone
}

// FromContentDisposition extracts the extension of the filename parameter.
// A filename with malformed percent-encoding is matched undecoded.
func FromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	m := dispositionFilename.FindStringSubmatch(cd)
	if m == nil {
		return ""
	}
	name := m[1]
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return trailingExt(name)
}

// FromURLPath extracts the extension of the last path element of rawURL.
func FromURLPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return trailingExt(u.EscapedPath())
}

// FromContentType maps a Content-Type value onto an extension by substring.
func FromContentType(ct string) string {
	if ct == "" {
		return ""
	}
	c := strings.ToLower(ct)
	switch {
	case strings.Contains(c, "mp4"):
		return "mp4"
	case strings.Contains(c, "webm"):
		return "webm"
	case strings.Contains(c, "mpeg"):
		return "mp3"
	case strings.Contains(c, "ogg"):
		return "ogg"
	case strings.Contains(c, "png"):
		return "png"
	case strings.Contains(c, "jpeg"), strings.Contains(c, "jpg"):
		return "jpg"
	case strings.Contains(c, "gif"):
		return "gif"
	case strings.Contains(c, "pdf"):
		return "pdf"
	}
	return ""
}

func trailingExt(s string) string {
	m := trailingExtension.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}
