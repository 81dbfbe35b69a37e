// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto

import "testing"

func TestValidToken(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"", false},
		{"a", true},
		{"Az09_-", true},
		{"a b", false},
		{"a.b", false},
		{"ä", false},
		{"a\x00", false},
	}
	for _, tc := range tests {
		if got := validToken(tc.input); got != tc.want {
			t.Errorf("validToken(%q): got %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestClampedCopy(t *testing.T) {
	m := Bye("abcdefghijklmnopqrstuvwxyz")
	c := m.clamped()
	if got, want := c.DisplayName, "abcdefghijklmnopqrst"; got != want {
		t.Errorf("clamped display: got %q, want %q", got, want)
	}
	if len(m.DisplayName) != 26 {
		t.Errorf("clamped modified its receiver: %q", m.DisplayName)
	}
}
