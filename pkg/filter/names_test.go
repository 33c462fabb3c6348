package filter_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chartcap/chartcap/pkg/filter"
)

func TestSelector(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		input    []string
		want     []string
	}{
		{
			name:     "empty patterns include everything",
			patterns: nil,
			input:    []string{"web", "db"},
			want:     []string{"web", "db"},
		},
		{
			name:     "include glob",
			patterns: []string{"web-*"},
			input:    []string{"web-1", "web-2", "db"},
			want:     []string{"web-1", "web-2"},
		},
		{
			name:     "exclusion wins over inclusion",
			patterns: []string{"*", "!db"},
			input:    []string{"web", "db"},
			want:     []string{"web"},
		},
		{
			name:     "exclusion only implies include all",
			patterns: []string{"!*-canary"},
			input:    []string{"web", "web-canary"},
			want:     []string{"web"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sel, err := filter.NewSelector(test.patterns)
			if err != nil {
				t.Fatal(err)
			}

			got := sel.Select(test.input)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("+got -want:\n%s", diff)
			}
		})
	}
}

func TestSelectorInvalidPattern(t *testing.T) {
	if _, err := filter.NewSelector([]string{"[invalid"}); err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}
