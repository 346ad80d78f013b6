package passphrase

import (
	"errors"
	"testing"
)

func scripted(answers ...string) func(string) (string, error) {
	return func(string) (string, error) {
		if len(answers) == 0 {
			return "", errors.New("no more answers")
		}
		next := answers[0]
		answers = answers[1:]
		return next, nil
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("VESTING_TEST_PASS", "from-env")
	src := NewSource("VESTING_TEST_PASS", "keystore passphrase")
	src.prompt = func(string) (string, error) {
		t.Fatalf("prompt used despite env var")
		return "", nil
	}
	got, err := src.Get()
	if err != nil || got != "from-env" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("VESTING_TEST_PASS", "  ")
	if _, err := NewSource("VESTING_TEST_PASS", "keystore passphrase").Get(); err == nil {
		t.Fatalf("expected error for blank env value")
	}
}

func TestSourceConfirmation(t *testing.T) {
	src := NewSource("", "keystore passphrase").WithConfirmation()
	src.prompt = scripted("alpha", "beta")
	if _, err := src.Get(); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}

	src = NewSource("", "keystore passphrase").WithConfirmation()
	src.prompt = scripted("alpha", "alpha")
	got, err := src.Get()
	if err != nil || got != "alpha" {
		t.Fatalf("got %q, %v", got, err)
	}
	// Cached after the first call.
	src.prompt = scripted()
	if again, err := src.Get(); err != nil || again != "alpha" {
		t.Fatalf("cached value lost: %q, %v", again, err)
	}
}
