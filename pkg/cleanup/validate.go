package cleanup

import (
	"fmt"

	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// Validate inspects a cleaned manifest and returns a list of issues: a
// non-mutating diagnostic pass. Issues are warnings by default; callers
// opting into strict mode may treat them as failures.
func Validate(rn *yaml.RNode) []string {
	issues := []string{}

	if rn.GetApiVersion() == "" {
		issues = append(issues, "missing apiVersion")
	}

	if rn.GetKind() == "" {
		issues = append(issues, "missing kind")
	}

	if rn.GetName() == "" {
		issues = append(issues, "missing metadata.name")
	}

	issues = append(issues, residualFields(rn)...)

	switch kind := rn.GetKind(); {
	case kind == "Deployment" || kind == "StatefulSet" || kind == "DaemonSet":
		issues = append(issues, validateWorkload(rn)...)
	case kind == "Service":
		issues = append(issues, validateService(rn)...)
	}

	return issues
}

func residualFields(rn *yaml.RNode) []string {
	meta, err := rn.Pipe(yaml.Lookup("metadata"))
	if err != nil || meta == nil {
		return nil
	}

	issues := []string{}

	for _, field := range metadataDrops {
		node, err := meta.Pipe(yaml.Lookup(field))
		if err == nil && node != nil {
			issues = append(issues, fmt.Sprintf("managed field %s still present in metadata", field))
		}
	}

	if node, err := rn.Pipe(yaml.Lookup("status")); err == nil && node != nil {
		issues = append(issues, "status still present")
	}

	return issues
}

func validateWorkload(rn *yaml.RNode) []string {
	containers, err := rn.Pipe(yaml.Lookup("spec", "template", "spec", "containers"))
	if err != nil || containers == nil || len(containers.Content()) == 0 {
		return []string{"missing or empty spec.template.spec.containers"}
	}

	return nil
}

func validateService(rn *yaml.RNode) []string {
	ports, err := rn.Pipe(yaml.Lookup("spec", "ports"))
	if err != nil || ports == nil {
		return nil
	}

	issues := []string{}

	for i, port := range ports.Content() {
		entry := yaml.NewRNode(port)

		value, err := entry.Pipe(yaml.Lookup("port"))
		if err != nil || value == nil {
			issues = append(issues, fmt.Sprintf("missing port in ports[%d]", i))
		}
	}

	return issues
}
