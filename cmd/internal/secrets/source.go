package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNotProvided is returned when the secret is neither in the environment nor
// obtainable from an interactive terminal.
var ErrNotProvided = errors.New("secret not provided")

// Source lazily resolves a named secret from an environment variable, falling
// back to a terminal prompt. The first result is cached.
type Source struct {
	label  string
	envVar string
	isTTY  func() bool
	read   func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source for the secret described by label that checks
// envVar before prompting.
func NewSource(label, envVar string) *Source {
	fd := int(os.Stdin.Fd())
	return &Source{
		label:  strings.TrimSpace(label),
		envVar: strings.TrimSpace(envVar),
		isTTY:  func() bool { return term.IsTerminal(fd) },
		read:   func() ([]byte, error) { return term.ReadPassword(fd) },
	}
}

// Get returns the secret. A variable that is set but blank is an error rather
// than a fallback to the prompt.
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
		if !s.isTTY() {
			if s.envVar != "" {
				s.err = fmt.Errorf("%w: set %s for the %s", ErrNotProvided, s.envVar, s.label)
			} else {
				s.err = fmt.Errorf("%w: %s", ErrNotProvided, s.label)
			}
			return
		}
		fmt.Fprintf(os.Stderr, "Enter %s: ", s.label)
		raw, err := s.read()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			s.err = fmt.Errorf("read %s: %w", s.label, err)
			return
		}
		if strings.TrimSpace(string(raw)) == "" {
			s.err = fmt.Errorf("%s cannot be empty", s.label)
			return
		}
		s.value = string(raw)
	})
	return s.value, s.err
}
