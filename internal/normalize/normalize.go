// Package normalize turns raw device output into a clean, matchable text log.
//
// Raw bytes are decoded (UTF-8, then GBK), line endings are folded to "\n"
// and terminal control sequences are removed. None of these steps can fail.
package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
)

const (
	// ChunkThreshold is the input size above which StripANSI works chunk by chunk.
	ChunkThreshold = 100000
	// ChunkSize is the nominal chunk length; each chunk is extended to the next newline.
	ChunkSize = 50000
)

// ansiPattern matches single-character escapes and CSI sequences.
// No match can contain '\n'.
var ansiPattern = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// Clean decodes b, normalizes line endings and strips escape sequences.
func Clean(b []byte) string {
	return StripANSI(Lines(Decode(b)))
}

// Decode converts raw bytes to a string. Valid UTF-8 is kept as is. Otherwise
// GBK is tried, and if that also leaves undecodable bytes the input is read
// as UTF-8 with every invalid sequence replaced by U+FFFD.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if s, ok := decodeGBK(b); ok {
		return s
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func decodeGBK(b []byte) (string, bool) {
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	if bytesContainRuneError(out) {
		return "", false
	}
	return string(out), true
}

func bytesContainRuneError(b []byte) bool {
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError {
			return true
		}
		b = b[size:]
	}
	return false
}

// Lines converts "\r\n" pairs and lone '\r' to '\n'.
func Lines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// StripANSI removes terminal escape sequences until none are left, so
// StripANSI(StripANSI(s)) == StripANSI(s). Large inputs are processed in
// newline-aligned chunks, which yields the same output as a single pass.
func StripANSI(s string) string {
	if len(s) <= ChunkThreshold {
		return stripFixed(s)
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, chunk := range splitAtNewlines(s, ChunkSize) {
		b.WriteString(stripFixed(chunk))
	}
	return b.String()
}

func stripFixed(s string) string {
	for strings.IndexByte(s, 0x1b) >= 0 {
		next := ansiPattern.ReplaceAllLiteralString(s, "")
		if len(next) == len(s) {
			break
		}
		s = next
	}
	return s
}

// splitAtNewlines cuts s into pieces of at least size bytes, each ending
// right after a '\n' (except possibly the last one).
func splitAtNewlines(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		i := strings.IndexByte(s[size:], '\n')
		if i < 0 {
			break
		}
		end := size + i + 1
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
