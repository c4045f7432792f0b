package main

import "testing"

func TestShortHash(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"ab", "ab"},
		{"0123456789ab", "0123456789ab"},
		{"0123456789abcdef0123456789abcdef", "0123456789ab"},
	}
	for _, tt := range tests {
		if got := shortHash(tt.in); got != tt.want {
			t.Errorf("shortHash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
