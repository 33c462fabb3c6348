package cleanup_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"sigs.k8s.io/kustomize/kyaml/yaml"

	"github.com/chartcap/chartcap/pkg/cleanup"
)

const liveDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  namespace: demo
  uid: 4c2a71a2-9f03-4b9e-8df6-1f5a1f0a1b2c
  resourceVersion: "123456"
  generation: 4
  creationTimestamp: "2026-01-12T08:00:00Z"
  managedFields:
  - manager: kubectl
  annotations:
    kubectl.kubernetes.io/last-applied-configuration: '{"apiVersion":"apps/v1"}'
    app.example.com/team: platform
  labels:
    app: web
    pod-template-hash: 7c9f8d
spec:
  replicas: 2
  revisionHistoryLimit: 10
  progressDeadlineSeconds: 600
  selector:
    matchLabels:
      app: web
  template:
    metadata:
      creationTimestamp: null
      labels:
        app: web
        pod-template-hash: 7c9f8d
    spec:
      containers:
      - name: web
        image: registry.example.com/web:1.4.2
status:
  availableReplicas: 2
  observedGeneration: 4
`

const cleanedDeployment = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: web
  annotations:
    app.example.com/team: platform
  labels:
    app: web
spec:
  replicas: 2
  selector:
    matchLabels:
      app: web
  template:
    metadata:
      labels:
        app: web
    spec:
      containers:
      - name: web
        image: registry.example.com/web:1.4.2
`

func TestCleanDeployment(t *testing.T) {
	got := cleanup.Clean(yaml.MustParse(liveDeployment)).MustString()

	if diff := cmp.Diff(cleanedDeployment, got); diff != "" {
		t.Errorf("+got -want:\n%s", diff)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	once := cleanup.Clean(yaml.MustParse(liveDeployment))
	twice := cleanup.Clean(yaml.MustParse(once.MustString()))

	if diff := cmp.Diff(once.MustString(), twice.MustString()); diff != "" {
		t.Errorf("second pass changed the manifest:\n%s", diff)
	}
}

func TestCleanCronJob(t *testing.T) {
	manifest := `apiVersion: batch/v1
kind: CronJob
metadata:
  name: backup
  namespace: demo
  uid: 9a1c2b3d-4e5f-6a7b-8c9d-0e1f2a3b4c5d
  resourceVersion: "842"
  creationTimestamp: "2026-02-03T03:00:00Z"
spec:
  schedule: "0 3 * * *"
  jobTemplate:
    metadata:
      creationTimestamp: null
      labels:
        app: backup
    spec:
      template:
        metadata:
          creationTimestamp: null
          annotations:
            kubectl.kubernetes.io/default-container: backup
          labels:
            app: backup
            pod-template-hash: 5f6d7c
        spec:
          containers:
          - name: backup
            image: registry.example.com/backup:2.0.1
status:
  lastScheduleTime: "2026-02-10T03:00:00Z"
`

	want := `apiVersion: batch/v1
kind: CronJob
metadata:
  name: backup
spec:
  schedule: "0 3 * * *"
  jobTemplate:
    metadata:
      labels:
        app: backup
    spec:
      template:
        metadata:
          labels:
            app: backup
        spec:
          containers:
          - name: backup
            image: registry.example.com/backup:2.0.1
`

	got := cleanup.Clean(yaml.MustParse(manifest)).MustString()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("+got -want:\n%s", diff)
	}
}

func TestCleanDropsEmptyAnnotationMap(t *testing.T) {
	manifest := `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
  annotations:
    kubectl.kubernetes.io/last-applied-configuration: '{}'
data:
  key: value
`

	got := cleanup.Clean(yaml.MustParse(manifest)).MustString()

	if strings.Contains(got, "annotations") {
		t.Errorf("empty annotation map should be removed entirely:\n%s", got)
	}
}

func TestCleanService(t *testing.T) {
	manifest := `apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  clusterIP: 10.43.0.17
  clusterIPs:
  - 10.43.0.17
  ipFamilies:
  - IPv4
  ipFamilyPolicy: SingleStack
  type: ClusterIP
  selector:
    app: web
  ports:
  - port: 80
    targetPort: 8080
`

	want := `apiVersion: v1
kind: Service
metadata:
  name: web
spec:
  type: ClusterIP
  selector:
    app: web
  ports:
  - port: 80
    targetPort: 8080
`

	got := cleanup.Clean(yaml.MustParse(manifest)).MustString()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("+got -want:\n%s", diff)
	}
}

func TestCleanClaim(t *testing.T) {
	manifest := `apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: data
  annotations:
    pv.kubernetes.io/bind-completed: "yes"
    pv.kubernetes.io/bound-by-controller: "yes"
spec:
  accessModes:
  - ReadWriteOnce
  volumeName: pvc-0b7e2c
  resources:
    requests:
      storage: 10Gi
status:
  phase: Bound
`

	want := `apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: data
spec:
  accessModes:
  - ReadWriteOnce
  resources:
    requests:
      storage: 10Gi
`

	got := cleanup.Clean(yaml.MustParse(manifest)).MustString()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("+got -want:\n%s", diff)
	}
}

func TestCleanPreservesKeyOrder(t *testing.T) {
	manifest := `apiVersion: v1
kind: ConfigMap
metadata:
  name: app-config
data:
  zebra: "1"
  alpha: "2"
  middle: "3"
`

	got := cleanup.Clean(yaml.MustParse(manifest)).MustString()

	if diff := cmp.Diff(manifest, got); diff != "" {
		t.Errorf("key order must survive cleaning:\n%s", diff)
	}
}
