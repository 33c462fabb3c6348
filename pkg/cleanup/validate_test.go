package cleanup_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"sigs.k8s.io/kustomize/kyaml/yaml"

	"github.com/chartcap/chartcap/pkg/cleanup"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		want     []string
	}{
		{
			name: "clean manifest has no issues",
			manifest: `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
data:
  key: value
`,
			want: []string{},
		},
		{
			name: "residual managed fields",
			manifest: `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
  uid: abc-123
status: {}
`,
			want: []string{
				"managed field uid still present in metadata",
				"status still present",
			},
		},
		{
			name: "workload without containers",
			manifest: `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
spec:
  template:
    spec:
      containers: []
`,
			want: []string{"missing or empty spec.template.spec.containers"},
		},
		{
			name: "service port entry without port",
			manifest: `apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  ports:
  - targetPort: 8080
`,
			want: []string{"missing port in ports[0]"},
		},
		{
			name:     "missing identity fields",
			manifest: `data: {}`,
			want: []string{
				"missing apiVersion",
				"missing kind",
				"missing metadata.name",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := cleanup.Validate(yaml.MustParse(test.manifest))
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("+got -want:\n%s", diff)
			}
		})
	}
}
