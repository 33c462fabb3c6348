// Package filter implements glob-based include/exclude name selection.
// Patterns use path.Match syntax; a leading "!" marks an exclusion, and
// exclusions always win over inclusions.
package filter

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

type Selector struct {
	include []string
	exclude []string
}

// NewSelector compiles a set of patterns into a Selector. Invalid
// patterns are reported together rather than failing on the first one.
func NewSelector(patterns []string) (*Selector, error) {
	sel := &Selector{}
	errs := []error{}

	for _, rawPattern := range patterns {
		pattern, isExclude := strings.CutPrefix(rawPattern, "!")
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("%v: %q", err, rawPattern))
			continue
		}

		if isExclude {
			sel.exclude = append(sel.exclude, pattern)
		} else {
			sel.include = append(sel.include, pattern)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return sel, nil
}

// Match reports whether name passes the selector: not excluded, and
// either no include patterns were given or at least one matches.
func (sel *Selector) Match(name string) bool {
	if matchPatterns(name, sel.exclude) {
		return false
	}

	return len(sel.include) == 0 || matchPatterns(name, sel.include)
}

// Select returns the names that pass the selector, preserving order.
func (sel *Selector) Select(names []string) []string {
	result := make([]string, 0, len(names))

	for _, name := range names {
		if sel.Match(name) {
			result = append(result, name)
		}
	}

	return result
}

func matchPatterns(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}

	return false
}
