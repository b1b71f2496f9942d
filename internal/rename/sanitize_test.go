package rename

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "Test Room", "Test Room"},
		{"newlines become spaces", "a\nb\nc", "a b c"},
		{"control characters stripped", "a\x00b\tc\rd\x0be\x0cf", "abcdef"},
		{"bom stripped", "\ufeffTitle", "Title"},
		{"mixed", "line1\nline2\t\x1b[31m", "line1 line2[31m"},
		{"unicode preserved", "测试 Тест ✓", "测试 Тест ✓"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sanitize(tt.in)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"Test Room",
		"a\nb\x00c\ufeff",
		"\t\r\x0b\x0c",
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("Sanitize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}
