// Package globish implements the glob-style patterns that select the
// branches taking part in a sync.
//
// Supported syntax: '*' and '?' wildcards (both match '/' too), character
// classes "[abc]", "[a-z]" and their negations "[!abc]" / "[^abc]",
// alternatives "{a,b}" and backslash escapes.
package globish

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ErrInvalidPattern is returned for patterns that can't be compiled.
var ErrInvalidPattern = errors.New("globish: invalid pattern")

// Globish is a compiled pattern. The zero value matches nothing.
type Globish struct {
	src   string
	g     glob.Glob
	empty bool
}

// New compiles the patterns into one globish that matches any of them.
// No patterns at all yields a globish matching nothing.
func New(patterns ...string) (Globish, error) {
	switch len(patterns) {
	case 0:
		return Globish{}, nil
	case 1:
		return compile(patterns[0])
	}
	return compile("{" + strings.Join(patterns, ",") + "}")
}

func compile(src string) (Globish, error) {
	if src == "" {
		return Globish{empty: true}, nil
	}
	for _, r := range src {
		if r < ' ' {
			return Globish{}, fmt.Errorf("%w %q: control character 0x%02x is not allowed", ErrInvalidPattern, src, r)
		}
	}
	g, err := glob.Compile(normalize(src))
	if err != nil {
		return Globish{}, fmt.Errorf("%w %q: %w", ErrInvalidPattern, src, err)
	}
	return Globish{src: src, g: g}, nil
}

// normalize rewrites "[^" class negation to the "[!" form understood by the
// glob compiler.
func normalize(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	escaped := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '[' && i+1 < len(src) && src[i+1] == '^':
			b.WriteString("[!")
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Matches reports whether s matches the pattern.
func (g Globish) Matches(s string) bool {
	if g.g == nil {
		return g.empty && s == ""
	}
	return g.g.Match(s)
}

// String returns the pattern source, as sent on the wire.
func (g Globish) String() string {
	return g.src
}

// Matcher selects names included by one pattern and not excluded by another.
type Matcher struct {
	Include Globish
	Exclude Globish
}

// NewMatcher compiles an include/exclude pair.
func NewMatcher(include, exclude string) (Matcher, error) {
	inc, err := New(include)
	if err != nil {
		return Matcher{}, err
	}
	var exc Globish
	if exclude != "" {
		if exc, err = New(exclude); err != nil {
			return Matcher{}, err
		}
	}
	return Matcher{Include: inc, Exclude: exc}, nil
}

// Matches reports whether s is included and not excluded.
func (m Matcher) Matches(s string) bool {
	return m.Include.Matches(s) && !m.Exclude.Matches(s)
}
