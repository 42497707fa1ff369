package envutil

import (
	"testing"
	"time"
)

func TestSecondsFallsBackOnGarbage(t *testing.T) {
	t.Setenv("LESSON_TEST_SECONDS", "abc")
	if got := Seconds("LESSON_TEST_SECONDS", 5*time.Second); got != 5*time.Second {
		t.Fatalf("want fallback 5s, got %s", got)
	}
	t.Setenv("LESSON_TEST_SECONDS", "12")
	if got := Seconds("LESSON_TEST_SECONDS", 5*time.Second); got != 12*time.Second {
		t.Fatalf("want 12s, got %s", got)
	}
}

func TestBool(t *testing.T) {
	t.Setenv("LESSON_TEST_BOOL", "off")
	if Bool("LESSON_TEST_BOOL", true) {
		t.Fatalf("expected off to parse as false")
	}
	t.Setenv("LESSON_TEST_BOOL", "maybe")
	if !Bool("LESSON_TEST_BOOL", true) {
		t.Fatalf("expected default for unparseable value")
	}
}
