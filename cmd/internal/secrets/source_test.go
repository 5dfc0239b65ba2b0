package secrets

import (
	"errors"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("REFLEX_TEST_SECRET", "s3cret")
	src := NewSource("API signing key", "REFLEX_TEST_SECRET")
	src.isTTY = func() bool { t.Fatal("prompted despite env"); return false }
	got, err := src.Get()
	if err != nil || got != "s3cret" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("REFLEX_TEST_SECRET", "  ")
	if _, err := NewSource("API signing key", "REFLEX_TEST_SECRET").Get(); err == nil {
		t.Fatalf("expected blank env error")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("API signing key", "REFLEX_TEST_SECRET_UNSET")
	src.isTTY = func() bool { return false }
	if _, err := src.Get(); !errors.Is(err, ErrNotProvided) {
		t.Fatalf("expected ErrNotProvided, got %v", err)
	}
}

func TestSourcePromptsOnce(t *testing.T) {
	reads := 0
	src := NewSource("API signing key", "")
	src.isTTY = func() bool { return true }
	src.read = func() ([]byte, error) {
		reads++
		return []byte("typed"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed" {
			t.Fatalf("got %q, %v", got, err)
		}
	}
	if reads != 1 {
		t.Fatalf("expected a single prompt, got %d", reads)
	}
}
