package export_test

import (
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/kustomize/kyaml/yaml"

	"github.com/chartcap/chartcap/pkg/export"
	"github.com/chartcap/chartcap/pkg/secrets"
)

type fakeClient struct {
	disconnected bool
	denied       map[string]bool
	manifests    map[string][]string
	listErr      map[string]error
	noHelm       bool
	lintErr      error

	listed []string
	linted []string
}

func (f *fakeClient) CheckConnection() bool { return !f.disconnected }

func (f *fakeClient) CanList(kind, _ string) bool { return !f.denied[kind] }

func (f *fakeClient) List(kind, _, _ string) ([]*yaml.RNode, error) {
	f.listed = append(f.listed, kind)

	if err := f.listErr[kind]; err != nil {
		return nil, err
	}

	nodes := []*yaml.RNode{}
	for _, manifest := range f.manifests[kind] {
		nodes = append(nodes, yaml.MustParse(manifest))
	}

	return nodes, nil
}

func (f *fakeClient) HelmAvailable() bool { return !f.noHelm }

func (f *fakeClient) LintChart(path string) error {
	f.linted = append(f.linted, path)

	return f.lintErr
}

const deploymentManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  uid: abc-123
spec:
  replicas: 2
  template:
    spec:
      containers:
      - name: web
        image: registry.example.com/web:1.4.2
status:
  availableReplicas: 2
`

const hollowDeploymentManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: hollow
spec:
  replicas: 1
  template:
    spec: {}
`

const serviceManifest = `apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  type: ClusterIP
  clusterIP: 10.43.0.17
  ports:
  - port: 80
`

const configMapManifest = `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
data:
  key: value
`

const secretManifest = `apiVersion: v1
kind: Secret
metadata:
  name: db-credentials
type: Opaque
data:
  password: aHVudGVyMg==
`

const tokenSecretManifest = `apiVersion: v1
kind: Secret
metadata:
  name: default-token-x7k2p
type: kubernetes.io/service-account-token
data:
  token: ZXlKaGJHY2lP
`

func newExporter(client *fakeClient, opts export.Options) *export.Exporter {
	if opts.Release == "" {
		opts.Release = "demo"
	}

	if opts.Namespace == "" {
		opts.Namespace = "demo-ns"
	}

	opts.Template = true

	return &export.Exporter{
		Client:  client,
		FileSys: filesys.MakeFsInMemory(),
		Options: opts,
	}
}

func TestRunExportsChart(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest},
		"Service":    {serviceManifest},
		"ConfigMap":  {configMapManifest},
	}}

	exporter := newExporter(client, export.Options{})

	report, err := exporter.Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 3 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 3 exported, 0 failed", report)
	}

	for _, kind := range client.listed {
		if kind == "Secret" {
			t.Error("secrets must not be listed without --include-secrets")
		}
	}

	paths := []string{
		"demo/Chart.yaml",
		"demo/values.yaml",
		"demo/.helmignore",
		"demo/EXPORT.md",
		"demo/templates/deployments-web.yaml",
		"demo/templates/services-web.yaml",
		"demo/templates/configmaps-app-config.yaml",
	}

	for _, path := range paths {
		if !exporter.FileSys.Exists(path) {
			t.Errorf("missing %s", path)
		}
	}

	body, err := exporter.FileSys.ReadFile("demo/templates/deployments-web.yaml")
	if err != nil {
		t.Fatal(err)
	}

	got := string(body)
	if strings.Contains(got, "uid:") || strings.Contains(got, "status:") {
		t.Errorf("manifest not cleaned:\n%s", got)
	}

	if !strings.Contains(got, "replicas: {{ .Values.replicaCount | default 2 }}") {
		t.Errorf("manifest not templated:\n%s", got)
	}
}

func TestRunZeroResourcesIsFatal(t *testing.T) {
	exporter := newExporter(&fakeClient{}, export.Options{})

	_, err := exporter.Run()
	if err == nil || !strings.Contains(err.Error(), "nothing to export") {
		t.Fatalf("expected nothing-to-export error, got %v", err)
	}

	if exporter.FileSys.Exists("demo") {
		t.Error("a fatal collection failure must not create the chart directory")
	}
}

func TestRunStrictValidation(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest, hollowDeploymentManifest},
	}}

	exporter := newExporter(client, export.Options{Strict: true})

	report, err := exporter.Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want the container-less deployment rejected", report)
	}

	failure := report.Failures[0]
	if failure.Kind != "Deployment" || failure.Name != "hollow" {
		t.Fatalf("failure = %+v", failure)
	}

	if !strings.Contains(failure.Err.Error(), "containers") {
		t.Errorf("failure should carry the validation issue, got %v", failure.Err)
	}

	if exporter.FileSys.Exists("demo/templates/deployments-hollow.yaml") {
		t.Error("rejected manifest must not be written to the chart")
	}
}

func TestRunValidationWarnsByDefault(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {hollowDeploymentManifest},
	}}

	exporter := newExporter(client, export.Options{})

	report, err := exporter.Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, validation issues alone must not block export", report)
	}

	if !exporter.FileSys.Exists("demo/templates/deployments-hollow.yaml") {
		t.Error("flagged manifest should still be exported")
	}
}

func TestRunSkipsFailingKind(t *testing.T) {
	client := &fakeClient{
		manifests: map[string][]string{"Deployment": {deploymentManifest}},
		listErr:   map[string]error{"Service": errors.New("forbidden")},
	}

	report, err := newExporter(client, export.Options{}).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 1 exported with the failing kind skipped", report)
	}
}

func TestRunSkipsDeniedKind(t *testing.T) {
	client := &fakeClient{
		manifests: map[string][]string{"Deployment": {deploymentManifest}},
		denied:    map[string]bool{"ConfigMap": true},
	}

	report, err := newExporter(client, export.Options{}).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 {
		t.Fatalf("report = %+v, want 1 exported", report)
	}

	for _, kind := range client.listed {
		if kind == "ConfigMap" {
			t.Error("denied kind must not be listed")
		}
	}
}

func TestRunNoConnection(t *testing.T) {
	exporter := newExporter(&fakeClient{disconnected: true}, export.Options{})

	_, err := exporter.Run()
	if err == nil || !strings.Contains(err.Error(), "cannot reach the cluster") {
		t.Fatalf("expected connectivity error, got %v", err)
	}
}

func TestRunInvalidRelease(t *testing.T) {
	exporter := newExporter(&fakeClient{}, export.Options{Release: "Not_Valid"})

	_, err := exporter.Run()
	if err == nil || !strings.Contains(err.Error(), "invalid release name") {
		t.Fatalf("expected release name error, got %v", err)
	}
}

func TestRunExistingOutputDir(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{"Deployment": {deploymentManifest}}}
	exporter := newExporter(client, export.Options{})

	if err := exporter.FileSys.MkdirAll("demo"); err != nil {
		t.Fatal(err)
	}

	_, err := exporter.Run()
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already-exists error, got %v", err)
	}

	exporter.Options.Force = true

	if _, err := exporter.Run(); err != nil {
		t.Fatal(err)
	}
}

func TestRunIncludeSecrets(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest},
		"Secret":     {secretManifest, tokenSecretManifest},
	}}

	report, err := newExporter(client, export.Options{IncludeSecrets: true}).Run()
	if err != nil {
		t.Fatal(err)
	}

	// service account token filtered, app secret kept
	if report.Exported != 2 {
		t.Fatalf("report = %+v, want deployment plus one secret", report)
	}
}

func TestRunSecretModeSkip(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest},
		"Secret":     {secretManifest},
	}}

	opts := export.Options{IncludeSecrets: true, SecretMode: secrets.ModeSkip}

	report, err := newExporter(client, opts).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v, skipped secrets are neither exported nor failures", report)
	}
}

func TestRunSelectionPlan(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest},
		"ConfigMap":  {configMapManifest},
	}}

	opts := export.Options{Selection: map[string][]string{"ConfigMap": {"app-config"}}}

	report, err := newExporter(client, opts).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 {
		t.Fatalf("report = %+v, want only the selected configmap", report)
	}

	sort.Strings(client.listed)
	if diff := cmp.Diff([]string{"ConfigMap"}, client.listed); diff != "" {
		t.Errorf("listed kinds (+got -want):\n%s", diff)
	}
}

func TestRunKindFilters(t *testing.T) {
	client := &fakeClient{manifests: map[string][]string{
		"Deployment": {deploymentManifest},
		"Service":    {serviceManifest},
		"ConfigMap":  {configMapManifest},
	}}

	opts := export.Options{OnlyKinds: []string{"deployment", "service"}, ExcludeKinds: []string{"service"}}

	report, err := newExporter(client, opts).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 {
		t.Fatalf("report = %+v, want only the deployment", report)
	}
}

func TestRunLintAdvisory(t *testing.T) {
	client := &fakeClient{
		manifests: map[string][]string{"Deployment": {deploymentManifest}},
		lintErr:   errors.New("lint: icon is recommended"),
	}

	report, err := newExporter(client, export.Options{Lint: true}).Run()
	if err != nil {
		t.Fatal(err)
	}

	if report.Exported != 1 {
		t.Fatalf("report = %+v", report)
	}

	if diff := cmp.Diff([]string{"demo"}, client.linted); diff != "" {
		t.Errorf("lint calls (+got -want):\n%s", diff)
	}
}

func TestRunLintRequiresHelm(t *testing.T) {
	client := &fakeClient{
		manifests: map[string][]string{"Deployment": {deploymentManifest}},
		noHelm:    true,
	}

	_, err := newExporter(client, export.Options{Lint: true}).Run()
	if err == nil || !strings.Contains(err.Error(), "helm binary") {
		t.Fatalf("expected helm prerequisite error, got %v", err)
	}
}
