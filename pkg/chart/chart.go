// Package chart assembles captured manifests into an installable Helm
// chart: the Chart.yaml metadata, guarded templates, a values.yaml
// derived from templating bindings, and an export summary.
package chart

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/kustomize/kyaml/yaml"

	"github.com/chartcap/chartcap/pkg/template"
)

const (
	DefaultVersion    = "0.1.0"
	DefaultAppVersion = "1.0.0"
)

// Meta is the Chart.yaml payload minus the fixed apiVersion line.
type Meta struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
	AppVersion  string `json:"appVersion,omitempty" yaml:"appVersion,omitempty"`
}

// Resource is a cleaned, templated manifest queued for the chart.
type Resource struct {
	Kind string
	Name string
	Node *yaml.RNode
}

// Chart accumulates resources and writes the final layout. Add and
// WriteTemplate may be called from concurrent export workers.
type Chart struct {
	Meta      Meta
	Namespace string
	Prefix    string
	Templater *template.Templater

	mu        sync.Mutex
	resources []Resource
}

func New(meta Meta, namespace string, templater *template.Templater) *Chart {
	if meta.Version == "" {
		meta.Version = DefaultVersion
	}

	return &Chart{
		Meta:      meta,
		Namespace: namespace,
		Templater: templater,
	}
}

func (chart *Chart) Add(res Resource) {
	chart.mu.Lock()
	defer chart.mu.Unlock()

	chart.resources = append(chart.resources, res)
}

func (chart *Chart) Resources() []Resource {
	chart.mu.Lock()
	defer chart.mu.Unlock()

	return append([]Resource(nil), chart.resources...)
}

// TemplateName yields the template filename for a resource, e.g.
// "deployments-web.yaml" for Deployment/web.
func (chart *Chart) TemplateName(res Resource) string {
	return fmt.Sprintf("%s%s-%s.yaml", chart.Prefix, pluralKind(res.Kind), Slugify(res.Name))
}

// Prepare claims the output directory. An existing directory is an
// error unless force is set, in which case it is replaced wholesale.
func Prepare(fileSys filesys.FileSystem, dir string, force bool) error {
	if fileSys.Exists(dir) {
		if !force {
			return fmt.Errorf("output directory %q already exists (use --force to overwrite)", dir)
		}

		if err := fileSys.RemoveAll(dir); err != nil {
			return fmt.Errorf("unable to replace %q: %w", dir, err)
		}
	}

	if err := fileSys.MkdirAll(dir); err != nil {
		return fmt.Errorf("unable to create %q: %w", dir, err)
	}

	return nil
}

// Store writes the complete chart under dir. The directory is created
// fresh: callers decide beforehand whether overwriting is allowed.
func (chart *Chart) Store(fileSys filesys.FileSystem, dir string) error {
	for _, res := range chart.Resources() {
		if err := chart.WriteTemplate(fileSys, dir, res); err != nil {
			return err
		}
	}

	return chart.Finalize(fileSys, dir)
}

// WriteTemplate serializes one queued resource into templates/,
// expanding placeholder tokens and wrapping the body in its kind
// guard. The resource must already have been Add-ed.
func (chart *Chart) WriteTemplate(fileSys filesys.FileSystem, dir string, res Resource) error {
	store := &fileStore{
		dir:        filepath.Join(dir, "templates"),
		FileSystem: fileSys,
		postProcess: func(_ string, body []byte) []byte {
			if chart.Templater != nil {
				body = chart.Templater.Expand(body)
			}

			return wrapGuard(res.Kind, body)
		},
	}

	if err := store.write(chart.TemplateName(res), res.Node); err != nil {
		return fmt.Errorf("unable to store templates: %w", err)
	}

	return nil
}

// Finalize writes the chart-level files: values.yaml, Chart.yaml,
// EXPORT.md, README.md and .helmignore.
func (chart *Chart) Finalize(fileSys filesys.FileSystem, dir string) error {
	if err := fileSys.MkdirAll(filepath.Join(dir, "templates")); err != nil {
		return fmt.Errorf("unable to initialize chart dir: %w", err)
	}

	if err := chart.storeValues(fileSys, dir); err != nil {
		return err
	}

	if err := chart.storeMeta(fileSys, dir); err != nil {
		return err
	}

	if err := chart.storeSummary(fileSys, dir); err != nil {
		return err
	}

	err := fileSys.WriteFile(filepath.Join(dir, ".helmignore"), []byte(helmignore))
	if err != nil {
		return fmt.Errorf("unable to store .helmignore: %w", err)
	}

	return chart.storeReadme(fileSys, dir)
}

// wrapGuard encloses a template body in a per-kind enabled switch so
// that whole resource kinds can be turned off at install time.
func wrapGuard(kind string, body []byte) []byte {
	if kind == "" {
		return body
	}

	guard := fmt.Sprintf("{{- if .Values.%s.enabled | default true }}\n---\n", strings.ToLower(kind))
	out := make([]byte, 0, len(guard)+len(body)+len("{{- end }}\n"))
	out = append(out, guard...)
	out = append(out, body...)

	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}

	return append(out, "{{- end }}\n"...)
}

func (chart *Chart) storeValues(fileSys filesys.FileSystem, dir string) error {
	root := yaml.NewMapRNode(nil)

	kinds := map[string]bool{}
	for _, res := range chart.Resources() {
		kinds[strings.ToLower(res.Kind)] = true
	}

	kindNames := make([]string, 0, len(kinds))
	for kind := range kinds {
		kindNames = append(kindNames, kind)
	}

	sort.Strings(kindNames)

	for _, kind := range kindNames {
		err := setPath(root, []string{kind, "enabled"}, yaml.NewScalarRNode("true"))
		if err != nil {
			return fmt.Errorf("unable to build values: %w", err)
		}
	}

	if chart.Templater != nil {
		for _, binding := range chart.Templater.Bindings() {
			if len(binding.Path) == 0 || binding.Value == nil {
				continue
			}

			if err := setPath(root, binding.Path, binding.Value); err != nil {
				return fmt.Errorf("unable to build values: %w", err)
			}
		}
	}

	err := fileSys.WriteFile(filepath.Join(dir, "values.yaml"), []byte(root.MustString()))
	if err != nil {
		return fmt.Errorf("unable to store values: %w", err)
	}

	return nil
}

func setPath(root *yaml.RNode, path []string, value *yaml.RNode) error {
	node := root

	for _, field := range path[:len(path)-1] {
		next, err := node.Pipe(yaml.LookupCreate(yaml.MappingNode, field))
		if err != nil {
			return err
		}

		node = next
	}

	return node.PipeE(yaml.SetField(path[len(path)-1], value))
}

func (chart *Chart) storeMeta(fileSys filesys.FileSystem, dir string) error {
	meta := chart.Meta
	if meta.AppVersion == "" {
		meta.AppVersion = chart.appVersionHint()
	}

	metaBytes, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("unable to serialize chart metadata: %w", err)
	}

	body := "apiVersion: v2\n" + string(metaBytes)

	err = fileSys.WriteFile(filepath.Join(dir, "Chart.yaml"), []byte(body))
	if err != nil {
		return fmt.Errorf("unable to store chart: %w", err)
	}

	return nil
}

// appVersionHint promotes a captured image tag to appVersion when the
// caller did not pin one.
func (chart *Chart) appVersionHint() string {
	if chart.Templater != nil {
		for _, binding := range chart.Templater.Bindings() {
			if len(binding.Path) == 2 && binding.Path[0] == "image" && binding.Path[1] == "tag" {
				if tag := yaml.GetValue(binding.Value); tag != "" && tag != "latest" {
					return tag
				}
			}
		}
	}

	return DefaultAppVersion
}

func (chart *Chart) storeSummary(fileSys filesys.FileSystem, dir string) error {
	resources := chart.Resources()
	if len(resources) == 0 {
		return nil
	}

	byKind := map[string][]string{}
	for _, res := range resources {
		byKind[res.Kind] = append(byKind[res.Kind], res.Name)
	}

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)

	builder := &strings.Builder{}
	fmt.Fprintf(builder, "# Export Summary\n\n")
	fmt.Fprintf(builder, "Captured %d resources from namespace `%s`.\n", len(resources), chart.Namespace)

	for _, kind := range kinds {
		names := byKind[kind]
		sort.Strings(names)
		fmt.Fprintf(builder, "\n## %s\n\n", kind)

		for _, name := range names {
			fmt.Fprintf(builder, "- %s\n", name)
		}
	}

	err := fileSys.WriteFile(filepath.Join(dir, "EXPORT.md"), []byte(builder.String()))
	if err != nil {
		return fmt.Errorf("unable to store summary: %w", err)
	}

	return nil
}

func (chart *Chart) storeReadme(fileSys filesys.FileSystem, dir string) error {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "# %s\n\n", chart.Meta.Name)

	if chart.Meta.Description != "" {
		fmt.Fprintf(builder, "%s\n\n", chart.Meta.Description)
	}

	fmt.Fprintf(builder, "Helm chart captured from the `%s` namespace.\n\n", chart.Namespace)
	fmt.Fprintf(builder, "## Installation\n\n")
	fmt.Fprintf(builder, "```sh\nhelm install %s ./%s\n```\n\n", chart.Meta.Name, chart.Meta.Name)
	fmt.Fprintf(builder, "Override defaults in `values.yaml` with `--set` or a custom values file.\n")

	err := fileSys.WriteFile(filepath.Join(dir, "README.md"), []byte(builder.String()))
	if err != nil {
		return fmt.Errorf("unable to store readme: %w", err)
	}

	return nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9.-]+`)

// Slugify maps a resource name onto a filename-safe token: lowercased,
// with each run of unsupported characters deliberately collapsed to a
// single hyphen rather than one hyphen per character. Valid Kubernetes
// names never contain such runs, so the collapsing only shows up for
// hand-typed prefixes.
func Slugify(name string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(name), "-")

	return strings.Trim(slug, "-")
}

func pluralKind(kind string) string {
	lower := strings.ToLower(kind)

	switch {
	case strings.HasSuffix(lower, "s"):
		return lower + "es"
	case strings.HasSuffix(lower, "y"):
		return lower[:len(lower)-1] + "ies"
	default:
		return lower + "s"
	}
}

const helmignore = `# Patterns to ignore when building packages.
.DS_Store
.git/
.gitignore
.vscode/
*.swp
*.bak
*.tmp
*.orig
*~
`
