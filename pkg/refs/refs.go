// Package refs computes, for a set of root workloads, the names of the
// supporting resources they reference: ConfigMaps, Secrets,
// ServiceAccounts, PVCs, plus Services matched by selector and
// Ingresses routing to those Services. Everything here is pure
// traversal over manifests; no I/O. Frontends use the results to
// pre-select sensible defaults or validate an operator's selection.
package refs

import (
	"sigs.k8s.io/kustomize/kyaml/sets"
	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// References holds the names of supporting resources referenced by a
// set of workloads.
type References struct {
	ConfigMaps      sets.String
	Secrets         sets.String
	ServiceAccounts sets.String
	Claims          sets.String
}

// Find walks each workload's pod spec and collects every supporting
// resource it names.
func Find(workloads []*yaml.RNode) References {
	result := References{
		ConfigMaps:      sets.String{},
		Secrets:         sets.String{},
		ServiceAccounts: sets.String{},
		Claims:          sets.String{},
	}

	for _, workload := range workloads {
		podSpec := PodSpec(workload)
		if podSpec == nil {
			continue
		}

		collectVolumeRefs(podSpec, &result)
		collectPullSecrets(podSpec, &result)
		collectContainerRefs(podSpec, &result)
		collectServiceAccount(podSpec, &result)
	}

	return result
}

func collectVolumeRefs(podSpec *yaml.RNode, out *References) {
	for _, volume := range elements(podSpec, "volumes") {
		insert(out.ConfigMaps, stringAt(volume, "configMap", "name"))
		insert(out.Secrets, stringAt(volume, "secret", "secretName"))
		insert(out.Claims, stringAt(volume, "persistentVolumeClaim", "claimName"))

		for _, source := range elements(volume, "projected", "sources") {
			insert(out.ConfigMaps, stringAt(source, "configMap", "name"))
			insert(out.Secrets, stringAt(source, "secret", "name"))
		}
	}
}

func collectPullSecrets(podSpec *yaml.RNode, out *References) {
	for _, pullSecret := range elements(podSpec, "imagePullSecrets") {
		insert(out.Secrets, stringAt(pullSecret, "name"))
	}
}

func collectContainerRefs(podSpec *yaml.RNode, out *References) {
	for _, container := range Containers(podSpec) {
		for _, entry := range elements(container, "envFrom") {
			insert(out.ConfigMaps, stringAt(entry, "configMapRef", "name"))
			insert(out.Secrets, stringAt(entry, "secretRef", "name"))
		}

		for _, entry := range elements(container, "env") {
			insert(out.ConfigMaps, stringAt(entry, "valueFrom", "configMapKeyRef", "name"))
			insert(out.Secrets, stringAt(entry, "valueFrom", "secretKeyRef", "name"))
		}
	}
}

func collectServiceAccount(podSpec *yaml.RNode, out *References) {
	name := stringAt(podSpec, "serviceAccountName")
	if name == "" {
		name = stringAt(podSpec, "serviceAccount")
	}

	insert(out.ServiceAccounts, name)
}

// MatchingServices returns the names of services whose selector is a
// non-empty exact subset of some workload's pod template labels.
func MatchingServices(workloads, services []*yaml.RNode) sets.String {
	matches := sets.String{}

	for _, service := range services {
		selectorNode, err := service.Pipe(yaml.Lookup("spec", "selector"))
		if err != nil || selectorNode == nil {
			continue
		}

		selector := stringMap(selectorNode)
		if len(selector) == 0 {
			continue
		}

		for _, workload := range workloads {
			if selectorMatches(selector, PodLabels(workload)) {
				insert(matches, service.GetName())

				break
			}
		}
	}

	return matches
}

func selectorMatches(selector, labels map[string]string) bool {
	if len(labels) == 0 {
		return false
	}

	for key, value := range selector {
		if labels[key] != value {
			return false
		}
	}

	return true
}

// IngressesForServices returns the names of ingresses that route to any
// of the given services, via the default backend or any rule path.
// Both the modern backend.service.name and the legacy
// backend.serviceName fields are honored.
func IngressesForServices(ingresses []*yaml.RNode, serviceNames sets.String) sets.String {
	matches := sets.String{}
	if len(serviceNames) == 0 {
		return matches
	}

	for _, ingress := range ingresses {
		for backendService := range ingressBackends(ingress) {
			if serviceNames.Has(backendService) {
				insert(matches, ingress.GetName())

				break
			}
		}
	}

	return matches
}

func ingressBackends(ingress *yaml.RNode) sets.String {
	names := sets.String{}

	if backend, err := ingress.Pipe(yaml.Lookup("spec", "defaultBackend")); err == nil && backend != nil {
		backendServices(backend, names)
	}

	for _, rule := range elements(ingress, "spec", "rules") {
		for _, path := range elements(rule, "http", "paths") {
			if backend, err := path.Pipe(yaml.Lookup("backend")); err == nil && backend != nil {
				backendServices(backend, names)
			}
		}
	}

	return names
}

func backendServices(backend *yaml.RNode, names sets.String) {
	insert(names, stringAt(backend, "service", "name"))
	insert(names, stringAt(backend, "serviceName"))
}

func insert(set sets.String, name string) {
	if name != "" {
		set.Insert(name)
	}
}
