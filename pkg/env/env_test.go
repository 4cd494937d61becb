package env

import "testing"

func TestFirstPrefersEarlierKeys(t *testing.T) {
	t.Setenv("DISPATCH_TEST_A", "")
	t.Setenv("DISPATCH_TEST_B", "second")
	t.Setenv("DISPATCH_TEST_C", "third")

	if got := First("fallback", "DISPATCH_TEST_A", "DISPATCH_TEST_B", "DISPATCH_TEST_C"); got != "second" {
		t.Fatalf("expected second, got %q", got)
	}
	if got := First("fallback", "DISPATCH_TEST_MISSING"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if got := Get("DISPATCH_TEST_C", "x"); got != "third" {
		t.Fatalf("expected third, got %q", got)
	}
}
