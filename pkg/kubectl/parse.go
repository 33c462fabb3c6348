package kubectl

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// parseItems decodes a kubectl list response (JSON with a top-level
// "items" array) into individual nodes. JSON is a subset of YAML, so
// the kyaml parser handles it and later serialization emits clean YAML
// with the original key order intact.
func parseItems(data []byte) ([]*yaml.RNode, error) {
	root, err := yaml.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("unable to parse list response: %w", err)
	}

	items, err := root.Pipe(yaml.Lookup("items"))
	if err != nil {
		return nil, fmt.Errorf("unable to parse list response: %w", err)
	}

	if items == nil {
		return nil, fmt.Errorf("list response has no items field")
	}

	nodes := []*yaml.RNode{}
	for _, item := range items.Content() {
		nodes = append(nodes, yaml.NewRNode(item))
	}

	return nodes, nil
}

func parseLines(data []byte) ([]string, error) {
	lines := []string{}

	s := bufio.NewScanner(bytes.NewBuffer(data))
	for s.Scan() {
		if line := strings.TrimSpace(s.Text()); line != "" {
			lines = append(lines, line)
		}
	}

	return lines, s.Err()
}

// parseResNames extracts bare names from "-oname" output (kind/name
// lines).
func parseResNames(data []byte) ([]string, error) {
	names, err := parseLines(data)
	if err != nil {
		return nil, err
	}

	for idx := range names {
		sepIdx := strings.LastIndex(names[idx], "/")
		if sepIdx < 0 {
			continue
		}

		names[idx] = names[idx][sepIdx+1:]
	}

	return names, nil
}
