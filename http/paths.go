package http

import (
	"fmt"
	"path"
	"strings"
)

// PathMatcher matches request paths against glob patterns. A "*" segment
// matches exactly one path segment and a "**" segment matches any number of
// segments, including none. Other segments use path.Match syntax, so
// "/files/*.pdf" works as expected.
type PathMatcher struct {
	patterns [][]string
	raw      []string
}

// NewPathMatcher compiles patterns. Every pattern must be rooted at "/".
func NewPathMatcher(patterns ...string) (*PathMatcher, error) {
	m := &PathMatcher{}
	for _, p := range patterns {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("path pattern %q: must start with /", p)
		}
		segs := splitPath(p)
		for _, seg := range segs {
			if seg == "**" {
				continue
			}
			if strings.Contains(seg, "**") {
				return nil, fmt.Errorf("path pattern %q: ** must be a whole segment", p)
			}
			if _, err := path.Match(seg, ""); err != nil {
				return nil, fmt.Errorf("path pattern %q: %w", p, err)
			}
		}
		m.patterns = append(m.patterns, segs)
		m.raw = append(m.raw, p)
	}
	return m, nil
}

// MustPathMatcher is like NewPathMatcher but panics on a bad pattern.
func MustPathMatcher(patterns ...string) *PathMatcher {
	m, err := NewPathMatcher(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

// Patterns returns the patterns the matcher was built with.
func (m *PathMatcher) Patterns() []string {
	return append([]string(nil), m.raw...)
}

// Match reports whether p matches any pattern.
func (m *PathMatcher) Match(p string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	segs := splitPath(path.Clean("/" + p))
	for _, pattern := range m.patterns {
		if matchSegments(pattern, segs) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], segs[0]); !ok {
			return false
		}
		pattern, segs = pattern[1:], segs[1:]
	}
	return len(segs) == 0
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
