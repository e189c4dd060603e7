package util

import (
	"strings"
	"testing"
)

func TestIsSafeIdentifier(t *testing.T) {
	cases := map[string]bool{
		"dev-1":       true,
		"pump_07.a":   true,
		"10.0.0.1":    true,
		"2001:db8::1": true,
		"":            false,
		"a/b":         false,
		"line\nbreak": false,
		"space in":    false,
	}
	cases[strings.Repeat("x", 129)] = false
	for in, want := range cases {
		if got := IsSafeIdentifier(in); got != want {
			t.Errorf("IsSafeIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContainsSuspicious(t *testing.T) {
	if !ContainsSuspicious("<script>alert(1)</script>") {
		t.Fatal("expected markup to be flagged")
	}
	if ContainsSuspicious("temperature sensor 4") {
		t.Fatal("plain text should not be flagged")
	}
}
