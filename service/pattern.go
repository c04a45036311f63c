package service

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Pattern selects services by ID.
type Pattern interface {
	Match(id string) bool
}

// Exact matches the single service ID.
type Exact string

// Match matches the ID.
func (p Exact) Match(id string) bool {
	return string(p) == id
}

// Func matches IDs accepted by the predicate.
type Func func(id string) bool

// Match matches the ID.
func (p Func) Match(id string) bool {
	return p(id)
}

// AnyOf matches IDs matched by any of the patterns.
type AnyOf []Pattern

// Match matches the ID.
func (p AnyOf) Match(id string) bool {
	return lo.ContainsBy(p, func(p Pattern) bool {
		return p.Match(id)
	})
}

// Regexp matches IDs matched by the regular expression.
func Regexp(re *regexp.Regexp) Pattern {
	return Func(re.MatchString)
}

// MatchString parses pattern. String enclosed in slashes is a regular expression,
// anything else is an exact ID.
func MatchString(s string) (Pattern, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "/") && strings.HasSuffix(s, "/") {
		re, err := regexp.Compile(s[1 : len(s)-1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid pattern %q", s)
		}
		return Regexp(re), nil
	}
	if s == "" {
		return nil, errors.New("empty pattern")
	}
	return Exact(s), nil
}
