package util

import "strings"

// Digits returns only the decimal digit runes of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TailDigits returns the last n digits of s, left-padded with zeros when
// s has fewer than n digits. Non-digit runes are ignored.
func TailDigits(s string, n int) string {
	d := Digits(s)
	if len(d) >= n {
		return d[len(d)-n:]
	}
	return strings.Repeat("0", n-len(d)) + d
}
