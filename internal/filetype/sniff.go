package filetype

import "bytes"

// MinSniffLen is the fewest leading bytes Sniff will look at.
const MinSniffLen = 4

// SniffWindow bounds how much of a fully read body is inspected.
const SniffWindow = 512

var (
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 0x50, 0x4E, 0x47}
	magicGIF  = []byte("GIF")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicFtyp = []byte("ftyp")
	magicID3  = []byte("ID3")
)

// Sniff returns the extension implied by the leading bytes of a body, or ""
// when the bytes match none of the known signatures.
func Sniff(b []byte) string {
	if len(b) < MinSniffLen {
		return ""
	}
	switch {
	case bytes.HasPrefix(b, magicJPEG):
		return "jpg"
	case bytes.HasPrefix(b, magicPNG):
		return "png"
	case bytes.HasPrefix(b, magicGIF):
		return "gif"
	case bytes.HasPrefix(b, magicEBML):
		return "webm"
	case len(b) >= 8 && bytes.Equal(b[4:8], magicFtyp):
		return "mp4"
	case bytes.HasPrefix(b, magicID3):
		return "mp3"
	case b[0] == 0xFF && b[1]&0xE0 == 0xE0:
		// MPEG audio frame sync.
		return "mp3"
	}
	return ""
}
