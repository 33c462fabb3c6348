// Package template rewrites selected literal fields of cleaned
// manifests into Helm value references. Substituted fields temporarily
// hold an opaque token that survives YAML serialization unquoted; the
// chart writer expands tokens into the final {{ ... }} expressions
// after the manifest body has been rendered. Each substitution also
// records a binding (values path plus the captured literal) from which
// values.yaml is derived. The transform is additive: fields without a
// rule keep their literal value.
package template

import (
	"fmt"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/util/rand"
	"sigs.k8s.io/kustomize/kyaml/yaml"
)

const tokenLen = 8

// Binding ties a substituted field to a values-tree entry. A binding
// with an empty Token contributes to values.yaml without replacing
// anything in the manifest.
type Binding struct {
	Token string
	Expr  string
	Path  []string
	Value *yaml.RNode
}

// Templater is safe for concurrent use: export workers templatize and
// expand resources in parallel.
type Templater struct {
	token string

	mu       sync.Mutex
	bindings []Binding
}

func New() *Templater {
	return &Templater{token: "HELM" + rand.String(tokenLen)}
}

func (t *Templater) Bindings() []Binding {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Binding(nil), t.bindings...)
}

// Expand replaces every placeholder token in a serialized manifest with
// its Helm expression. Bindings are walked newest-first so that token
// indices sharing a prefix cannot clobber each other.
func (t *Templater) Expand(body []byte) []byte {
	bindings := t.Bindings()
	text := string(body)

	for i := len(bindings) - 1; i >= 0; i-- {
		binding := bindings[i]
		if binding.Token == "" {
			continue
		}

		text = strings.ReplaceAll(text, binding.Token, binding.Expr)
	}

	return []byte(text)
}

// Templatize applies the kind-specific substitution rules in place.
// Unknown kinds pass through untouched.
func (t *Templater) Templatize(rn *yaml.RNode, resourceName string) error {
	switch rn.GetKind() {
	case "Deployment":
		return t.deployment(rn)
	case "Service":
		return t.service(rn)
	case "ConfigMap":
		return t.dataBlock(rn, "config", resourceName)
	case "Secret":
		return t.secretData(rn, resourceName)
	case "PersistentVolumeClaim":
		return t.claim(rn, resourceName)
	}

	return nil
}

func (t *Templater) bind(expr string, path []string, value *yaml.RNode) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := fmt.Sprintf("%s.%dx", t.token, len(t.bindings))
	t.bindings = append(t.bindings, Binding{Token: token, Expr: expr, Path: path, Value: value})

	return token
}

// record adds a values-only binding that never touches the manifest.
func (t *Templater) record(path []string, value *yaml.RNode) {
	if value == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.bindings = append(t.bindings, Binding{Path: path, Value: value})
}

func (t *Templater) deployment(rn *yaml.RNode) error {
	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil || spec == nil {
		return err
	}

	if err := t.replaceScalar(spec, "replicas", []string{"replicaCount"}, func(literal string) string {
		return fmt.Sprintf("{{ .Values.replicaCount | default %s }}", literal)
	}); err != nil {
		return err
	}

	containers, err := rn.Pipe(yaml.Lookup("spec", "template", "spec", "containers"))
	if err != nil || containers == nil {
		return err
	}

	elements, err := containers.Elements()
	if err != nil || len(elements) == 0 {
		return err
	}

	return t.primaryContainer(elements[0])
}

func (t *Templater) primaryContainer(container *yaml.RNode) error {
	if image := fieldValue(container, "image"); image != "" {
		repository, tag := splitImage(image)
		t.record([]string{"image", "repository"}, yaml.NewScalarRNode(repository))

		if tag != "" {
			t.record([]string{"image", "tag"}, yaml.NewScalarRNode(tag))
		}

		token := t.bind("{{ .Values.image.repository }}:{{ .Values.image.tag }}", nil, nil)
		if err := setField(container, "image", token); err != nil {
			return err
		}
	}

	if err := t.replaceScalar(container, "imagePullPolicy", []string{"image", "pullPolicy"}, func(string) string {
		return "{{ .Values.image.pullPolicy }}"
	}); err != nil {
		return err
	}

	if resources, err := container.Pipe(yaml.Lookup("resources")); err == nil && resources != nil {
		token := t.bind("{{ toYaml .Values.resources | nindent 12 }}", []string{"resources"}, resources.Copy())
		if err := setField(container, "resources", token); err != nil {
			return err
		}
	}

	if ports, err := container.Pipe(yaml.Lookup("ports")); err == nil && ports != nil {
		if entries, err := ports.Elements(); err == nil && len(entries) > 0 {
			if port, err := entries[0].Pipe(yaml.Lookup("containerPort")); err == nil && port != nil {
				t.record([]string{"containerPort"}, port.Copy())
			}
		}
	}

	return t.envVars(container)
}

// envVars parameterizes literal-string environment variables, keyed by
// a sanitized variable name with the live value kept as the default.
func (t *Templater) envVars(container *yaml.RNode) error {
	env, err := container.Pipe(yaml.Lookup("env"))
	if err != nil || env == nil {
		return err
	}

	entries, err := env.Elements()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := fieldValue(entry, "name")
		if name == "" {
			continue
		}

		value, err := entry.Pipe(yaml.Lookup("value"))
		if err != nil || value == nil || !isStringScalar(value) {
			continue
		}

		safeName := SanitizeEnvName(name)
		literal := yaml.GetValue(value)
		expr := fmt.Sprintf("{{ .Values.env.%s | default %q }}", safeName, literal)
		token := t.bind(expr, []string{"env", safeName}, value.Copy())

		if err := setField(entry, "value", token); err != nil {
			return err
		}
	}

	return nil
}

func (t *Templater) service(rn *yaml.RNode) error {
	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil || spec == nil {
		return err
	}

	if err := t.replaceScalar(spec, "type", []string{"service", "type"}, func(string) string {
		return "{{ .Values.service.type }}"
	}); err != nil {
		return err
	}

	ports, err := spec.Pipe(yaml.Lookup("ports"))
	if err != nil || ports == nil {
		return err
	}

	entries, err := ports.Elements()
	if err != nil || len(entries) == 0 {
		return err
	}

	port := entries[0]

	if err := t.replaceScalar(port, "port", []string{"service", "port"}, func(string) string {
		return "{{ .Values.service.port }}"
	}); err != nil {
		return err
	}

	return t.replaceScalar(port, "targetPort", []string{"service", "targetPort"}, func(string) string {
		return "{{ .Values.service.targetPort }}"
	})
}

// dataBlock templates an entire data map as one unit: environment
// specific content belongs in values, not in the template.
func (t *Templater) dataBlock(rn *yaml.RNode, group, resourceName string) error {
	data, err := rn.Pipe(yaml.Lookup("data"))
	if err != nil || data == nil {
		return err
	}

	safeName := SanitizeName(resourceName)
	expr := fmt.Sprintf("{{ toYaml .Values.%s.%s | nindent 2 }}", group, safeName)
	token := t.bind(expr, []string{group, safeName}, data.Copy())

	return setField(rn, "data", token)
}

// secretData templates the data block but does not copy it into the
// values tree: secret payloads are referenced, never duplicated.
func (t *Templater) secretData(rn *yaml.RNode, resourceName string) error {
	data, err := rn.Pipe(yaml.Lookup("data"))
	if err != nil || data == nil {
		return err
	}

	safeName := SanitizeName(resourceName)
	expr := fmt.Sprintf("{{ toYaml .Values.secrets.%s | nindent 2 }}", safeName)
	token := t.bind(expr, nil, nil)

	return setField(rn, "data", token)
}

func (t *Templater) claim(rn *yaml.RNode, resourceName string) error {
	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil || spec == nil {
		return err
	}

	safeName := SanitizeName(resourceName)

	if requests, err := spec.Pipe(yaml.Lookup("resources", "requests")); err == nil && requests != nil {
		expr := fmt.Sprintf("{{ .Values.persistence.%s.size }}", safeName)
		if err := t.replaceScalar(requests, "storage", []string{"persistence", safeName, "size"}, func(string) string {
			return expr
		}); err != nil {
			return err
		}
	}

	expr := fmt.Sprintf("{{ .Values.persistence.%s.storageClass }}", safeName)
	if err := t.replaceScalar(spec, "storageClassName", []string{"persistence", safeName, "storageClass"}, func(string) string {
		return expr
	}); err != nil {
		return err
	}

	if list, err := spec.Pipe(yaml.Lookup("accessModes")); err == nil && list != nil {
		if entries, err := list.Elements(); err == nil && len(entries) > 0 {
			t.record([]string{"persistence", safeName, "accessMode"}, entries[0].Copy())
		}
	}

	return nil
}

// replaceScalar substitutes a scalar field when present, recording its
// literal value under the given values path.
func (t *Templater) replaceScalar(parent *yaml.RNode, field string, path []string, expr func(literal string) string) error {
	node, err := parent.Pipe(yaml.Lookup(field))
	if err != nil || node == nil {
		return err
	}

	literal := yaml.GetValue(node)
	token := t.bind(expr(literal), path, node.Copy())

	return setField(parent, field, token)
}

func setField(parent *yaml.RNode, field, token string) error {
	return parent.PipeE(yaml.SetField(field, yaml.NewScalarRNode(token)))
}

func fieldValue(rn *yaml.RNode, field string) string {
	node, err := rn.Pipe(yaml.Lookup(field))
	if err != nil || node == nil {
		return ""
	}

	return yaml.GetValue(node)
}

func isStringScalar(rn *yaml.RNode) bool {
	node := rn.YNode()

	return node.Kind == yaml.ScalarNode &&
		(node.Tag == yaml.NodeTagString || node.Tag == yaml.NodeTagEmpty)
}

func splitImage(image string) (repository, tag string) {
	idx := strings.LastIndex(image, ":")
	if idx < 0 || strings.Contains(image[idx:], "/") {
		return image, ""
	}

	return image[:idx], image[idx+1:]
}

// SanitizeName maps a resource name onto a values key: hyphens become
// underscores.
func SanitizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// SanitizeEnvName maps an environment variable name onto a values key:
// lowercased with underscores and hyphens stripped.
func SanitizeEnvName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "")

	return strings.ReplaceAll(name, "-", "")
}
