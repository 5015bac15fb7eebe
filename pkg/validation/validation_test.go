package validation

import (
	"errors"
	"strings"
	"testing"

	"lanrelay/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDisplayName(t *testing.T) {
	got, err := NormalizeDisplayName("  alice ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	got, err = NormalizeDisplayName("Zoë")
	require.NoError(t, err)
	assert.Equal(t, "Zoë", got)

	for _, bad := range []string{"", "   ", "a:b", "tab\there", strings.Repeat("x", MaxDisplayNameBytes+1), "\xff"} {
		_, err := NormalizeDisplayName(bad)
		assert.Truef(t, errors.Is(err, domain.ErrInvalidDisplayName), "expected rejection of %q", bad)
	}
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("3f2b7d1e-9b1a-4c55-8f5e-0d1c2b3a4f5e"))
	for _, bad := range []string{"", "../etc", "a/b", "with space", strings.Repeat("a", 65)} {
		assert.Error(t, ValidateSessionID(bad), bad)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"/abs/path/notes.txt", "notes.txt"},
		{`..\..\windows\system.ini`, "system.ini"},
		{"dir/sub/", "sub"},
	}
	for _, tc := range cases {
		got, err := SanitizeFilename(tc.in, 255)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.NotContains(t, got, "/")
		assert.NotContains(t, got, `\`)
	}
}

func TestSanitizeFilename_Rejects(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "/", "../", "a\x00b", "movie.mp4.part", "bad\nname", strings.Repeat("n", 300)} {
		_, err := SanitizeFilename(bad, 255)
		assert.Truef(t, errors.Is(err, domain.ErrInvalidFilename), "expected rejection of %q", bad)
	}
}
