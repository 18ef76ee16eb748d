// Package textutil holds the text handling rules applied to model
// output before it replaces a chat message.
package textutil

import (
	"strings"
	"unicode/utf16"
)

// MaxMessageUnits is Telegram's message length limit, counted in UTF-16
// code units.
const MaxMessageUnits = 4096

// TruncateUTF16 shortens s so that it fits in limit UTF-16 code units
// without splitting a character.
func TruncateUTF16(s string, limit int) string {
	units := 0
	for i, r := range s {
		n := utf16.RuneLen(r)
		if n < 0 {
			// Invalid rune; encoded as U+FFFD.
			n = 1
		}
		if units+n > limit {
			return s[:i]
		}
		units += n
	}
	return s
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// Normalize trims s and collapses every run of whitespace to one space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Equivalent reports whether a and b read the same once whitespace is
// normalized, ignoring case.
func Equivalent(a, b string) bool {
	return strings.EqualFold(Normalize(a), Normalize(b))
}
