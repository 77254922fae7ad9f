package license

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	// Wildcard marks a position replaced by one random hex digit
	Wildcard = '*'

	hexDigits = "0123456789abcdef"
)

// KeyGenerator derives license keys from optional templates
type KeyGenerator struct {
	rand   io.Reader
	prefix string
}

// NewKeyGenerator creates a generator drawing from crypto/rand
func NewKeyGenerator(prefix string) *KeyGenerator {
	return &KeyGenerator{rand: rand.Reader, prefix: prefix}
}

// RandomHex returns n random lowercase hex digits
func (g *KeyGenerator) RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = hexDigits[b&0x0f]
	}
	return string(buf), nil
}

// Derive builds one key. An empty template yields length random hex digits;
// otherwise each wildcard in template is replaced left to right. Keys for
// non-premium users always carry the prefix.
func (g *KeyGenerator) Derive(template string, length int, premium bool) (string, error) {
	var key string

	switch {
	case template == "":
		random, err := g.RandomHex(length)
		if err != nil {
			return "", err
		}
		key = random
	case HasWildcards(template):
		n := strings.Count(template, string(Wildcard))
		random, err := g.RandomHex(n)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		b.Grow(len(template))
		next := 0
		for _, r := range template {
			if r == Wildcard {
				b.WriteByte(random[next])
				next++
				continue
			}
			b.WriteRune(r)
		}
		key = b.String()
	default:
		key = template
	}

	if !premium && g.prefix != "" && !strings.HasPrefix(key, g.prefix) {
		key = g.prefix + key
	}
	return key, nil
}

// HasWildcards reports whether template contains placeholders
func HasWildcards(template string) bool {
	return strings.ContainsRune(template, Wildcard)
}
