package globish

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	for _, tc := range []struct {
		pattern string
		match   []string
		nomatch []string
	}{
		{"net.venge.monotone*", []string{"net.venge.monotone", "net.venge.monotone.contrib/x"}, []string{"net.venge"}},
		{"a?c", []string{"abc", "a/c"}, []string{"ac", "abbc"}},
		{"[ab]x", []string{"ax", "bx"}, []string{"cx"}},
		{"[!ab]x", []string{"cx"}, []string{"ax"}},
		{"[^ab]x", []string{"cx"}, []string{"bx"}},
		{"{foo,bar}.*", []string{"foo.1", "bar.2"}, []string{"baz.3"}},
		{`a\*b`, []string{"a*b"}, []string{"axb"}},
		{"", []string{""}, []string{"x"}},
	} {
		t.Run(tc.pattern, func(t *testing.T) {
			g, err := New(tc.pattern)
			require.NoError(t, err)
			require.Equal(t, tc.pattern, g.String())
			for _, s := range tc.match {
				require.True(t, g.Matches(s), s)
			}
			for _, s := range tc.nomatch {
				require.False(t, g.Matches(s), s)
			}
		})
	}
}

func TestNewMultiple(t *testing.T) {
	g, err := New("a*", "b*")
	require.NoError(t, err)
	require.True(t, g.Matches("apple"))
	require.True(t, g.Matches("banana"))
	require.False(t, g.Matches("cherry"))

	var zero Globish
	require.False(t, zero.Matches(""))
	none, err := New()
	require.NoError(t, err)
	require.False(t, none.Matches("anything"))
}

func TestInvalid(t *testing.T) {
	_, err := New("[abc")
	require.ErrorIs(t, err, ErrInvalidPattern)
	_, err = New("a\tb")
	require.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMatcher(t *testing.T) {
	m, err := NewMatcher("org.example*", "org.example.private*")
	require.NoError(t, err)
	require.True(t, m.Matches("org.example.public"))
	require.False(t, m.Matches("org.example.private.x"))
	require.False(t, m.Matches("com.other"))

	all, err := NewMatcher("*", "")
	require.NoError(t, err)
	require.True(t, all.Matches("anything"))
}
