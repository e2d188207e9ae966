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

// ErrEmpty is returned when a non-empty passphrase is required.
var ErrEmpty = errors.New("keystore passphrase cannot be empty")

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval so repeated calls reuse the same secret.
type Source struct {
	envVar string
	label  string

	// RequireNonEmpty rejects blank passphrases. Keystores written by a local
	// default deployment use an empty passphrase, so reads leave it unset.
	RequireNonEmpty bool

	prompt func(label string) (string, error)
	lookup func(string) (string, bool)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal. label names the key in prompts.
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "operator"
	}
	return &Source{
		envVar: strings.TrimSpace(envVar),
		label:  label,
		prompt: terminalPrompt(os.Stdin, os.Stderr),
		lookup: os.LookupEnv,
	}
}

// Get returns the cached passphrase or resolves it if this is the first call.
// When the environment variable is set the exact value is used; otherwise the
// operator is prompted on stderr.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				s.value, s.err = s.check(value)
				return
			}
		}
		value, err := s.prompt(s.label)
		if err != nil {
			if s.envVar != "" {
				err = fmt.Errorf("%w; set %s", err, s.envVar)
			}
			s.err = err
			return
		}
		s.value, s.err = s.check(value)
	})
	return s.value, s.err
}

func (s *Source) check(value string) (string, error) {
	if s.RequireNonEmpty && strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s %w", s.label, ErrEmpty)
	}
	return value, nil
}

func terminalPrompt(in *os.File, out io.Writer) func(string) (string, error) {
	return func(label string) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("%s keystore passphrase required and no terminal available", label)
		}
		fmt.Fprintf(out, "Enter %s keystore passphrase: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(raw), nil
	}
}
