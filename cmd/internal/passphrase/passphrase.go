package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrMismatch is returned when a confirmed prompt receives two different
// answers.
var ErrMismatch = errors.New("passphrases do not match")

// Source resolves a keystore passphrase from an environment variable or an
// interactive prompt and caches the first successful answer.
type Source struct {
	envVar  string
	label   string
	confirm bool

	// prompt reads one secret line; swapped in tests.
	prompt func(label string) (string, error)
	stderr io.Writer

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting for label on the terminal.
func NewSource(envVar, label string) *Source {
	s := &Source{
		envVar: strings.TrimSpace(envVar),
		label:  label,
		stderr: os.Stderr,
	}
	s.prompt = s.readTerminal
	return s
}

// WithConfirmation makes interactive prompts ask twice. Used when a new
// keystore is being written.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

func (s *Source) readTerminal(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if s.envVar != "" {
			return "", fmt.Errorf("%s required; set %s or run interactively", s.label, s.envVar)
		}
		return "", fmt.Errorf("%s required and no terminal available", s.label)
	}
	fmt.Fprintf(s.stderr, "%s: ", label)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(s.stderr)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.label, err)
	}
	return string(raw), nil
}

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := os.LookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		value, err := s.prompt("Enter " + s.label)
		if err != nil {
			s.err = err
			return
		}
		if strings.TrimSpace(value) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		if s.confirm {
			again, err := s.prompt("Repeat " + s.label)
			if err != nil {
				s.err = err
				return
			}
			if again != value {
				s.err = ErrMismatch
				return
			}
		}
		s.value = value
	})
	return s.value, s.err
}
