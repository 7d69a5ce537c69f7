package filetype

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// DefaultNamePrefix prefixes synthesized filenames.
const DefaultNamePrefix = "Cecilefy.xyz"

// SuffixFunc returns the numeric suffix of a synthesized filename.
// Values are expected to have six digits.
type SuffixFunc func() int

// RandomSuffix returns a uniformly distributed value in [100000, 999999].
func RandomSuffix() int {
	return 100000 + rand.IntN(900000)
}

// Namer finalizes download filenames.
type Namer struct {
	prefix string
	suffix SuffixFunc
}

// NewNamer creates a Namer. An empty prefix selects DefaultNamePrefix and a
// nil suffix selects RandomSuffix.
func NewNamer(prefix string, suffix SuffixFunc) *Namer {
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	if suffix == nil {
		suffix = RandomSuffix
	}
	return &Namer{prefix: prefix, suffix: suffix}
}

// Filename returns the final download name for a sanitized hint and a
// resolved extension. Either may be empty.
func (n *Namer) Filename(hint, ext string) string {
	final := ext
	if final == "" {
		final = FallbackExtension
	}

	if hint == "" {
		return fmt.Sprintf("%s_%06d.%s", n.prefix, n.suffix(), final)
	}
	if ext != "" && ext != FallbackExtension && strings.HasSuffix(strings.ToLower(hint), "."+FallbackExtension) {
		return hint[:len(hint)-len(FallbackExtension)] + ext
	}
	if !strings.Contains(hint, ".") {
		return hint + "." + final
	}
	return hint
}

// HintFromQuery sanitizes a caller-supplied filename. Blank input yields "".
func HintFromQuery(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return SanitizeFilename(raw)
}

// Disposition formats an attachment Content-Disposition value.
// filename must already be sanitized or synthesized.
func Disposition(filename string) string {
	return `attachment; filename="` + filename + `"`
}
