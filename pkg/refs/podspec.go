package refs

import "sigs.k8s.io/kustomize/kyaml/yaml"

// PodSpec resolves the pod spec of a workload manifest: CronJobs nest
// it under spec.jobTemplate, Deployments and friends under
// spec.template, and bare pods or Job specs carry it directly.
func PodSpec(rn *yaml.RNode) *yaml.RNode {
	paths := [][]string{
		{"spec", "jobTemplate", "spec", "template", "spec"},
		{"spec", "template", "spec"},
		{"spec"},
	}

	for _, path := range paths {
		spec, err := rn.Pipe(yaml.Lookup(path...))
		if err == nil && spec != nil {
			return spec
		}
	}

	return nil
}

// PodLabels returns the labels on the workload's pod template.
func PodLabels(rn *yaml.RNode) map[string]string {
	paths := [][]string{
		{"spec", "jobTemplate", "spec", "template", "metadata", "labels"},
		{"spec", "template", "metadata", "labels"},
	}

	for _, path := range paths {
		labels, err := rn.Pipe(yaml.Lookup(path...))
		if err == nil && labels != nil {
			return stringMap(labels)
		}
	}

	return nil
}

// Containers iterates every container list of a pod spec, including
// init and ephemeral containers.
func Containers(podSpec *yaml.RNode) []*yaml.RNode {
	result := []*yaml.RNode{}

	for _, field := range []string{"containers", "initContainers", "ephemeralContainers"} {
		list, err := podSpec.Pipe(yaml.Lookup(field))
		if err != nil || list == nil {
			continue
		}

		elements, err := list.Elements()
		if err != nil {
			continue
		}

		result = append(result, elements...)
	}

	return result
}

func elements(rn *yaml.RNode, path ...string) []*yaml.RNode {
	list, err := rn.Pipe(yaml.Lookup(path...))
	if err != nil || list == nil {
		return nil
	}

	items, err := list.Elements()
	if err != nil {
		return nil
	}

	return items
}

func stringAt(rn *yaml.RNode, path ...string) string {
	node, err := rn.Pipe(yaml.Lookup(path...))
	if err != nil || node == nil {
		return ""
	}

	return yaml.GetValue(node)
}

func stringMap(rn *yaml.RNode) map[string]string {
	keys, err := rn.Fields()
	if err != nil {
		return nil
	}

	result := map[string]string{}
	for _, key := range keys {
		result[key] = stringAt(rn, key)
	}

	return result
}
