package license

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexPattern = regexp.MustCompile(`^[0-9a-f]+$`)

func TestRandomHex(t *testing.T) {
	g := NewKeyGenerator(DefaultPrefix)

	s, err := g.RandomHex(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)
	assert.Regexp(t, hexPattern, s)
}

func TestDeriveDeterministic(t *testing.T) {
	g := &KeyGenerator{rand: bytes.NewReader([]byte{0x00, 0x01, 0xfe, 0x1f}), prefix: DefaultPrefix}

	key, err := g.Derive("KEY-**-**", 0, true)
	require.NoError(t, err)
	assert.Equal(t, "KEY-01-ef", key)
}

func TestDerive(t *testing.T) {
	g := NewKeyGenerator(DefaultPrefix)

	tests := []struct {
		name     string
		template string
		length   int
		premium  bool
		check    func(t *testing.T, key string)
	}{
		{
			name: "random premium", length: 16, premium: true,
			check: func(t *testing.T, key string) {
				assert.Len(t, key, 16)
				assert.Regexp(t, hexPattern, key)
			},
		},
		{
			name: "random free", length: 8,
			check: func(t *testing.T, key string) {
				require.True(t, strings.HasPrefix(key, DefaultPrefix))
				assert.Regexp(t, hexPattern, strings.TrimPrefix(key, DefaultPrefix))
				assert.Len(t, key, len(DefaultPrefix)+8)
			},
		},
		{
			name: "verbatim free", template: "MY-KEY", length: 16,
			check: func(t *testing.T, key string) {
				assert.Equal(t, DefaultPrefix+"MY-KEY", key)
			},
		},
		{
			name: "verbatim already prefixed", template: DefaultPrefix + "MY-KEY", length: 16,
			check: func(t *testing.T, key string) {
				assert.Equal(t, DefaultPrefix+"MY-KEY", key)
			},
		},
		{
			name: "verbatim premium", template: "MY-KEY", length: 16, premium: true,
			check: func(t *testing.T, key string) {
				assert.Equal(t, "MY-KEY", key)
			},
		},
		{
			name: "wildcards ignore length", template: "A*B*", length: 64, premium: true,
			check: func(t *testing.T, key string) {
				assert.Regexp(t, `^A[0-9a-f]B[0-9a-f]$`, key)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := g.Derive(tt.template, tt.length, tt.premium)
			require.NoError(t, err)
			tt.check(t, key)
		})
	}
}

func TestDeriveRandomFailure(t *testing.T) {
	g := &KeyGenerator{rand: bytes.NewReader(nil)}
	_, err := g.Derive("", 8, true)
	assert.Error(t, err)
}
