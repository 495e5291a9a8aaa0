package util

import "testing"

func TestDigits(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "1234567", "1234567"},
		{"embedded junk", "AB-12 34.567", "1234567"},
		{"empty", "", ""},
		{"no digits", "abc-def", ""},
		{"leading zeros kept", "0012345", "0012345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Digits(tt.in); got != tt.want {
				t.Errorf("Digits(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTailDigits(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"exact", "1234", 4, "1234"},
		{"longer", "7654321", 4, "4321"},
		{"shorter pads", "42", 4, "0042"},
		{"empty pads", "", 4, "0000"},
		{"junk stripped", "tag-98x7", 4, "0987"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TailDigits(tt.in, tt.n); got != tt.want {
				t.Errorf("TailDigits(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
