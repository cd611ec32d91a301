package analyzer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "path and query dropped", raw: "HTTP://Example.com/path?x=1", want: "http://example.com"},
		{name: "bare host", raw: "https://example.com", want: "https://example.com"},
		{name: "trailing slash", raw: "https://example.com/", want: "https://example.com"},
		{name: "fragment dropped", raw: "https://example.com/#top", want: "https://example.com"},
		{name: "surrounding whitespace", raw: "  https://Example.COM/a  ", want: "https://example.com"},
		{name: "default http port", raw: "http://example.com:80/x", want: "http://example.com"},
		{name: "default https port", raw: "https://example.com:443", want: "https://example.com"},
		{name: "explicit port kept", raw: "http://example.com:8080/x", want: "http://example.com:8080"},
		{name: "https keeps port 80", raw: "https://example.com:80", want: "https://example.com:80"},
		{name: "credentials dropped", raw: "https://user:pw@example.com/private", want: "https://example.com"},
		{name: "subdomain", raw: "https://www.Example.com", want: "https://www.example.com"},
		{name: "localhost", raw: "http://localhost:3000/admin", want: "http://localhost:3000"},
		{name: "ip host", raw: "http://127.0.0.1/", want: "http://127.0.0.1"},
		{name: "empty port", raw: "http://example.com:/", want: "http://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := Normalize(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "normalization must be idempotent")
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "no scheme", raw: "example.com"},
		{name: "ftp", raw: "ftp://example.com"},
		{name: "mailto", raw: "mailto:someone@example.com"},
		{name: "missing host", raw: "http://"},
		{name: "path only", raw: "http:///path"},
		{name: "space in host", raw: "http://exa mple.com"},
		{name: "garbage", raw: "not a url"},
		{name: "too long", raw: "https://example.com/" + strings.Repeat("a", MaxURLLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidURL), "got %v", err)
		})
	}
}

func TestNormalizeLengthBoundary(t *testing.T) {
	t.Parallel()

	prefix := "https://example.com/"
	exact := prefix + strings.Repeat("a", MaxURLLength-len(prefix))
	got, err := Normalize(exact)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got)

	_, err = Normalize(exact + "a")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestNormalizeEquivalentInputsShareName(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"https://example.com",
		"https://EXAMPLE.com/",
		"https://example.com/products?id=4",
		"https://example.com:443/about#team",
	}
	for _, raw := range inputs {
		got, err := Normalize(raw)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got, raw)
	}
}
