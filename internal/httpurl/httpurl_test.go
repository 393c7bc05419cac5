package httpurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHostOnly(t *testing.T) {
	u, err := Parse("example.com:443")
	require.NoError(t, err)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, "443", u.Port)
	assert.Equal(t, "/", u.Path)
}

func TestParseHTTPDefaults(t *testing.T) {
	u, err := Parse("http://example.com/foo")
	require.NoError(t, err)
	assert.Equal(t, HTTP, u.Protocol)
	assert.Equal(t, "example.com", u.Host)
	assert.Equal(t, "80", u.Port)
	assert.Equal(t, "/foo", u.Path)
}

func TestParseHTTPSWithPort(t *testing.T) {
	u, err := Parse("https://example.com:8443/a/b")
	require.NoError(t, err)
	assert.Equal(t, HTTPS, u.Protocol)
	assert.Equal(t, "8443", u.Port)
	assert.Equal(t, "/a/b", u.Path)
}

func TestParseNoPath(t *testing.T) {
	u, err := Parse("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "/", u.Path, "expected default path")
}

func TestParseCaseInsensitiveScheme(t *testing.T) {
	u, err := Parse("HTTP://example.com/x")
	require.NoError(t, err)
	assert.Equal(t, HTTP, u.Protocol)
}

func TestParseEmptyHost(t *testing.T) {
	_, err := Parse("http:///foo")
	assert.Error(t, err, "expected error for empty host")
}

func TestParseRoundTripWithExplicitPort(t *testing.T) {
	orig := "http://origin:8080/x"
	u, err := Parse(orig)
	require.NoError(t, err)
	assert.Equal(t, orig, u.String())
}
