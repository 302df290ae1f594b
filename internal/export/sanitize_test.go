package export

import "testing"

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain", "My Cut", 0, "My Cut"},
		{"slashes replaced", "a/b\\c", 0, "a_b_c"},
		{"control stripped", "ti\x00tle", 0, "title"},
		{"truncated", "abcdefgh", 4, "abcd"},
		{"trimmed", "  padded  ", 0, "padded"},
		{"punctuation kept", "Cut (v2), final.", 0, "Cut (v2), final."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeName(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
			}
		})
	}
}
