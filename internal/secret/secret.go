// Package secret holds registry credentials without ever printing them.
package secret

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Redacted replaces a secret value wherever it would be printed
const Redacted = "***"

// Secret is an opaque credential. The value is only reachable through Plaintext.
type Secret struct {
	name  string
	value string
}

// New wraps a value. name describes where it came from and may be printed.
func New(name, value string) *Secret {
	return &Secret{name: name, value: value}
}

// Parse builds a Secret from a command-line value:
//
//	env:NAME   the value of environment variable NAME
//	file:PATH  the content of PATH, trailing newlines removed
//	anything   the literal value
//
// An empty spec yields nil (no credential).
func Parse(spec string) (*Secret, error) {
	switch {
	case spec == "":
		return nil, nil
	case strings.HasPrefix(spec, "env:"):
		name := strings.TrimPrefix(spec, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return nil, fmt.Errorf("environment variable %s is not set", name)
		}
		return New(spec, value), nil
	case strings.HasPrefix(spec, "file:"):
		path := strings.TrimPrefix(spec, "file:")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file: %w", err)
		}
		return New(spec, strings.TrimRight(string(data), "\r\n")), nil
	default:
		return New("literal", spec), nil
	}
}

// Plaintext returns the secret value
func (s *Secret) Plaintext() string {
	if s == nil {
		return ""
	}
	return s.value
}

// Present reports whether s carries a non-empty value
func (s *Secret) Present() bool {
	return s != nil && s.value != ""
}

// Name describes the source of the secret
func (s *Secret) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *Secret) String() string {
	return Redacted
}

// GoString keeps %#v from dumping the struct fields
func (s *Secret) GoString() string {
	return Redacted
}

// Format redacts under every verb, including %+v and %q
func (s *Secret) Format(f fmt.State, _ rune) {
	fmt.Fprint(f, Redacted)
}

// MarshalJSON redacts the value in JSON output
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// MarshalText redacts the value in text encodings such as YAML keys
func (s *Secret) MarshalText() ([]byte, error) {
	return []byte(Redacted), nil
}

// Censor keeps a list of secret values that must never reach log output.
// Access to the list is internally synchronized.
type Censor struct {
	mu     sync.RWMutex
	values []string
}

// NewCensor returns an empty censor
func NewCensor() *Censor {
	return &Censor{}
}

// Add registers secrets whose values are scrubbed from log entries
func (c *Censor) Add(secrets ...*Secret) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range secrets {
		if s.Present() {
			c.values = append(c.values, s.value)
		}
	}
}

// Censor replaces every registered value in s
func (c *Censor) Censor(s string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.values {
		s = strings.ReplaceAll(s, v, Redacted)
	}
	return s
}

// Formatter wraps f so formatted entries are censored before they are written
func (c *Censor) Formatter(f logrus.Formatter) logrus.Formatter {
	return &censoringFormatter{delegate: f, censor: c}
}

type censoringFormatter struct {
	delegate logrus.Formatter
	censor   *Censor
}

func (f *censoringFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	raw, err := f.delegate.Format(entry)
	if err != nil {
		return nil, err
	}
	return []byte(f.censor.Censor(string(raw))), nil
}
