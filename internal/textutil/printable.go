// Package textutil holds small text helpers shared by the decoders: printable
// sanitizing, Windows path handling and monitor timestamp parsing.
package textutil

import (
	"strings"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Printable returns b with every byte outside printable ASCII rendered as a
// \xNN escape. Tab, newline, carriage return, vertical tab and form feed are
// kept as-is.
func Printable(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if isPrintable(c) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteString(`\x`)
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0f])
	}
	return sb.String()
}

// Text returns b unchanged when it is valid UTF-8 and Printable(b) otherwise,
// so that JSON encoding never replaces bytes with U+FFFD.
func Text(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return Printable(b)
}

// PrintableString is Printable for strings.
func PrintableString(s string) string {
	return Printable([]byte(s))
}

func isPrintable(c byte) bool {
	switch {
	case c >= 0x20 && c <= 0x7e:
		return true
	case c == '\t', c == '\n', c == '\r', c == '\v', c == '\f':
		return true
	default:
		return false
	}
}
