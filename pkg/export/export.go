// Package export sequences a full capture: prerequisite checks,
// kind-by-kind collection, selection filtering, cleaning, secret
// policy, templating and chart assembly. One failing resource never
// aborts the batch; failures are collected into the final report.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/kustomize/kyaml/yaml"

	"github.com/chartcap/chartcap/pkg/chart"
	"github.com/chartcap/chartcap/pkg/cleanup"
	"github.com/chartcap/chartcap/pkg/filter"
	"github.com/chartcap/chartcap/pkg/refs"
	"github.com/chartcap/chartcap/pkg/secrets"
	"github.com/chartcap/chartcap/pkg/template"
)

const DefaultWorkers = 4

// SupportedKinds is the fixed set the pipeline has cleaning and
// templating rules for, in collection order.
var SupportedKinds = []string{
	"Deployment",
	"StatefulSet",
	"DaemonSet",
	"CronJob",
	"Job",
	"Service",
	"ConfigMap",
	"Secret",
	"ServiceAccount",
	"PersistentVolumeClaim",
	"Ingress",
}

var workloadKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
	"CronJob":     true,
	"Job":         true,
}

// Client is the narrow cluster boundary the exporter needs.
type Client interface {
	CheckConnection() bool
	CanList(kind, namespace string) bool
	List(kind, namespace, selector string) ([]*yaml.RNode, error)
	HelmAvailable() bool
	LintChart(path string) error
}

type Options struct {
	Release   string
	Namespace string
	OutputDir string
	Selector  string

	// OnlyKinds/ExcludeKinds hold glob patterns over lowercased kind
	// names; Selection pins explicit resource names per kind.
	OnlyKinds    []string
	ExcludeKinds []string
	Selection    map[string][]string

	Prefix                       string
	IncludeSecrets               bool
	IncludeServiceAccountSecrets bool
	SecretMode                   secrets.Mode

	Force    bool
	Lint     bool
	Template bool
	Strict   bool

	ChartVersion string
	AppVersion   string
	Description  string

	Workers int
}

type Failure struct {
	Kind string
	Name string
	Err  error
}

type Report struct {
	Exported   int
	Failed     int
	Failures   []Failure
	OutputPath string
}

var (
	errNothingToExport = errors.New("no resources matched: nothing to export")

	releaseNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

type Exporter struct {
	Client  Client
	FileSys filesys.FileSystem
	Options Options
}

func (e *Exporter) Run() (*Report, error) {
	opts, err := e.normalize()
	if err != nil {
		return nil, err
	}

	if err := e.checkPrerequisites(opts); err != nil {
		return nil, err
	}

	// Refuse an existing target before doing any cluster work, but
	// only create the directory once there is something to write: a
	// fatal collection failure must not leave an empty chart behind.
	if e.FileSys.Exists(opts.OutputDir) && !opts.Force {
		return nil, fmt.Errorf("output directory %q already exists (use --force to overwrite)", opts.OutputDir)
	}

	collected, err := e.collect(opts)
	if err != nil {
		return nil, err
	}

	e.logUnreferenced(collected)

	if err := chart.Prepare(e.FileSys, opts.OutputDir, opts.Force); err != nil {
		return nil, err
	}

	helmChart := e.newChart(opts)
	failures := e.process(opts, helmChart, collected)

	slog.Info("writing chart", "dir", opts.OutputDir)

	if err := helmChart.Finalize(e.FileSys, opts.OutputDir); err != nil {
		return nil, err
	}

	e.lint(opts)

	report := &Report{
		Exported:   len(helmChart.Resources()),
		Failed:     len(failures),
		Failures:   failures,
		OutputPath: opts.OutputDir,
	}

	slog.Info("export complete", "exported", report.Exported, "failed", report.Failed, "path", report.OutputPath)

	return report, nil
}

func (e *Exporter) normalize() (Options, error) {
	opts := e.Options

	if !releaseNameRe.MatchString(opts.Release) {
		return opts, fmt.Errorf("invalid release name %q: must be lowercase alphanumeric with hyphens", opts.Release)
	}

	if opts.Namespace == "" {
		opts.Namespace = "default"
	}

	if opts.OutputDir == "" {
		opts.OutputDir = opts.Release
	}

	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}

	if opts.SecretMode == "" {
		opts.SecretMode = secrets.ModeInclude
	}

	if opts.IncludeServiceAccountSecrets {
		opts.IncludeSecrets = true
	}

	if opts.Description == "" {
		opts.Description = fmt.Sprintf("Helm chart generated from live resources in namespace %s", opts.Namespace)
	}

	return opts, nil
}

func (e *Exporter) checkPrerequisites(opts Options) error {
	slog.Info("validating prerequisites", "namespace", opts.Namespace)

	if !e.Client.CheckConnection() {
		return errors.New("cannot reach the cluster: check kubeconfig, context and connectivity")
	}

	if opts.Lint && !e.Client.HelmAvailable() {
		return errors.New("--lint requires the helm binary on PATH")
	}

	return nil
}

// collect lists every selected kind, degrading per-kind errors to a
// skip. Zero resources across all kinds is fatal.
func (e *Exporter) collect(opts Options) (map[string][]*yaml.RNode, error) {
	kinds, err := e.selectKinds(opts)
	if err != nil {
		return nil, err
	}

	collected := map[string][]*yaml.RNode{}
	total := 0

	for _, kind := range kinds {
		if !e.Client.CanList(kind, opts.Namespace) {
			slog.Warn("skipping kind: access denied", "kind", kind, "namespace", opts.Namespace)

			continue
		}

		nodes, err := e.Client.List(kind, opts.Namespace, opts.Selector)
		if err != nil {
			slog.Warn("skipping kind: list failed", "kind", kind, "error", err)

			continue
		}

		nodes = e.selectNames(opts, kind, nodes)
		if kind == "Secret" && len(opts.Selection["Secret"]) == 0 {
			nodes = secrets.Filter(nodes, opts.IncludeServiceAccountSecrets)
		}

		if len(nodes) == 0 {
			continue
		}

		slog.Info("collected", "kind", kind, "count", len(nodes))
		collected[kind] = nodes
		total += len(nodes)
	}

	if total == 0 {
		return nil, errNothingToExport
	}

	return collected, nil
}

// selectKinds applies --only/--exclude patterns plus the explicit
// selection plan to the supported kind set.
func (e *Exporter) selectKinds(opts Options) ([]string, error) {
	patterns := append([]string{}, opts.OnlyKinds...)
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	for _, excluded := range opts.ExcludeKinds {
		patterns = append(patterns, "!"+excluded)
	}

	sel, err := filter.NewSelector(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid kind filter: %w", err)
	}

	kinds := []string{}

	for _, kind := range SupportedKinds {
		if !sel.Match(strings.ToLower(kind)) {
			continue
		}

		if len(opts.Selection) > 0 {
			if _, picked := opts.Selection[kind]; !picked {
				continue
			}
		}

		if kind == "Secret" && !opts.IncludeSecrets && len(opts.Selection["Secret"]) == 0 {
			slog.Debug("secrets excluded by default, use --include-secrets")

			continue
		}

		kinds = append(kinds, kind)
	}

	return kinds, nil
}

func (e *Exporter) selectNames(opts Options, kind string, nodes []*yaml.RNode) []*yaml.RNode {
	names := opts.Selection[kind]
	if len(names) == 0 {
		return nodes
	}

	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}

	selected := make([]*yaml.RNode, 0, len(names))

	for _, node := range nodes {
		if wanted[node.GetName()] {
			selected = append(selected, node)
		}
	}

	return selected
}

// logUnreferenced flags supporting resources that no collected
// workload points at. Diagnostic only: they are still exported.
func (e *Exporter) logUnreferenced(collected map[string][]*yaml.RNode) {
	workloads := []*yaml.RNode{}
	for kind, nodes := range collected {
		if workloadKinds[kind] {
			workloads = append(workloads, nodes...)
		}
	}

	if len(workloads) == 0 {
		return
	}

	references := refs.Find(workloads)
	serviceNames := refs.MatchingServices(workloads, collected["Service"])

	check := func(kind string, referenced func(name string) bool) {
		for _, node := range collected[kind] {
			if name := node.GetName(); !referenced(name) {
				slog.Debug("resource not referenced by any workload", "kind", kind, "name", name)
			}
		}
	}

	check("ConfigMap", references.ConfigMaps.Has)
	check("Secret", references.Secrets.Has)
	check("ServiceAccount", references.ServiceAccounts.Has)
	check("PersistentVolumeClaim", references.Claims.Has)
	check("Service", serviceNames.Has)

	ingressNames := refs.IngressesForServices(collected["Ingress"], serviceNames)
	check("Ingress", ingressNames.Has)
}

func (e *Exporter) newChart(opts Options) *chart.Chart {
	var templater *template.Templater
	if opts.Template {
		templater = template.New()
	}

	meta := chart.Meta{
		Name:        opts.Release,
		Description: opts.Description,
		Version:     opts.ChartVersion,
		AppVersion:  opts.AppVersion,
	}

	helmChart := chart.New(meta, opts.Namespace, templater)
	helmChart.Prefix = opts.Prefix

	return helmChart
}

// process runs clean → secret policy → templatize → write for every
// collected resource under a bounded worker pool.
func (e *Exporter) process(opts Options, helmChart *chart.Chart, collected map[string][]*yaml.RNode) []Failure {
	policy := &secrets.Policy{Mode: opts.SecretMode}

	var mu sync.Mutex

	failures := []Failure{}
	fail := func(kind, name string, err error) {
		slog.Error("resource failed", "kind", kind, "name", name, "error", err)

		mu.Lock()
		failures = append(failures, Failure{Kind: kind, Name: name, Err: err})
		mu.Unlock()
	}

	group := &errgroup.Group{}
	group.SetLimit(opts.Workers)

	for _, kind := range SupportedKinds {
		for _, node := range collected[kind] {
			kind, node := kind, node
			group.Go(func() error {
				if err := e.processOne(opts, helmChart, policy, kind, node, fail); err != nil {
					fail(kind, node.GetName(), err)
				}

				return nil
			})
		}
	}

	// workers never return errors, Wait only drains the pool
	_ = group.Wait()

	return failures
}

func (e *Exporter) processOne(opts Options, helmChart *chart.Chart, policy *secrets.Policy, kind string, node *yaml.RNode, fail func(kind, name string, err error)) error {
	name := node.GetName()
	node = cleanup.Clean(node)

	for _, warning := range cleanup.Validate(node) {
		if opts.Strict {
			fail(kind, name, fmt.Errorf("validation: %s", warning))

			return nil
		}

		slog.Warn("validation", "kind", kind, "name", name, "warning", warning)
	}

	if kind == "Secret" {
		processed, err := policy.Process(node)
		if err != nil {
			return fmt.Errorf("secret policy: %w", err)
		}

		if processed == nil {
			slog.Debug("secret omitted by policy", "name", name)

			return nil
		}

		node = processed
	}

	if templater := helmChart.Templater; templater != nil {
		if err := templater.Templatize(node, name); err != nil {
			return fmt.Errorf("templating: %w", err)
		}
	}

	res := chart.Resource{Kind: kind, Name: name, Node: node}

	if err := helmChart.WriteTemplate(e.FileSys, opts.OutputDir, res); err != nil {
		return err
	}

	helmChart.Add(res)

	return nil
}

// lint is advisory: a failed lint is reported, never fatal.
func (e *Exporter) lint(opts Options) {
	if !opts.Lint {
		return
	}

	slog.Info("linting chart", "dir", opts.OutputDir)

	if err := e.Client.LintChart(opts.OutputDir); err != nil {
		slog.Warn("helm lint reported problems", "error", err)
	}
}
