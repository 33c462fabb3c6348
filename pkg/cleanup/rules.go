// Package cleanup strips cluster-managed fields from live manifests so
// they can be re-installed from a chart. Rules are applied in order and
// are forgiving: fields that are absent or shaped unexpectedly are left
// alone, never reported as errors.
package cleanup

import (
	"strings"

	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// metadataDrops are the orchestrator-managed metadata fields removed
// from every resource. namespace is dropped to keep the manifest
// portable across install targets.
var metadataDrops = []string{
	"creationTimestamp",
	"deletionTimestamp",
	"deletionGracePeriodSeconds",
	"generateName",
	"generation",
	"managedFields",
	"ownerReferences",
	"resourceVersion",
	"selfLink",
	"uid",
	"namespace",
}

var (
	annotationDropPrefixes = []string{"kubectl.kubernetes.io"}
	annotationDropSuffixes = []string{"last-applied-configuration"}
	labelDrops             = []string{"pod-template-hash"}

	serviceSpecDrops = []string{
		"clusterIP",
		"clusterIPs",
		"ipFamilies",
		"ipFamilyPolicy",
		"sessionAffinityConfig",
	}

	podControllerSpecDrops = []string{
		"revisionHistoryLimit",
		"progressDeadlineSeconds",
	}

	pvcSpecDrops = []string{
		"volumeName",
		"dataSource",
		"dataSourceRef",
	}

	pvcAnnotationDrops = []string{
		"pv.kubernetes.io/bind-completed",
		"pv.kubernetes.io/bound-by-controller",
	}
)

// podControllerKinds are the workload kinds whose pod template metadata
// gets the same treatment as top-level metadata.
var podControllerKinds = map[string]bool{
	"Deployment":  true,
	"StatefulSet": true,
	"DaemonSet":   true,
	"ReplicaSet":  true,
	"Job":         true,
	"CronJob":     true,
}

type Rule interface {
	Apply(rn *yaml.RNode) error
}

type Rules []Rule

func (rules Rules) Apply(rn *yaml.RNode) error {
	for _, rule := range rules {
		if err := rule.Apply(rn); err != nil {
			return err
		}
	}

	return nil
}

func DefaultRules() Rules {
	return Rules{
		&metadataRule{},
		&serviceRule{},
		&podControllerRule{},
		&pvcRule{},
	}
}

// Clean strips cluster-managed fields from the manifest in place and
// returns it. Cleaning is idempotent: a second pass removes nothing.
func Clean(rn *yaml.RNode) *yaml.RNode {
	// Rules only fail on malformed documents, which kubectl never
	// produces; cleaning stays best-effort either way.
	_ = DefaultRules().Apply(rn)

	return rn
}

type metadataRule struct{}

func (*metadataRule) Apply(rn *yaml.RNode) error {
	if err := rn.PipeE(yaml.Clear("status")); err != nil {
		return err
	}

	meta, err := rn.Pipe(yaml.Lookup("metadata"))
	if err != nil || meta == nil {
		return err
	}

	for _, field := range metadataDrops {
		if err := meta.PipeE(yaml.Clear(field)); err != nil {
			return err
		}
	}

	if err := cleanAnnotations(meta, nil); err != nil {
		return err
	}

	return cleanLabels(meta)
}

type serviceRule struct{}

func (*serviceRule) Apply(rn *yaml.RNode) error {
	if rn.GetKind() != "Service" {
		return nil
	}

	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil || spec == nil {
		return err
	}

	return clearFields(spec, serviceSpecDrops)
}

type podControllerRule struct{}

func (*podControllerRule) Apply(rn *yaml.RNode) error {
	if !podControllerKinds[rn.GetKind()] {
		return nil
	}

	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil || spec == nil {
		return err
	}

	if err := clearFields(spec, podControllerSpecDrops); err != nil {
		return err
	}

	// CronJobs nest the pod template one level deeper and carry a
	// jobTemplate metadata of their own.
	paths := [][]string{
		{"spec", "template", "metadata"},
		{"spec", "jobTemplate", "metadata"},
		{"spec", "jobTemplate", "spec", "template", "metadata"},
	}

	for _, path := range paths {
		tmplMeta, err := rn.Pipe(yaml.Lookup(path...))
		if err != nil || tmplMeta == nil {
			continue
		}

		if err := tmplMeta.PipeE(yaml.Clear("creationTimestamp")); err != nil {
			return err
		}

		if err := cleanAnnotations(tmplMeta, nil); err != nil {
			return err
		}

		if err := cleanLabels(tmplMeta); err != nil {
			return err
		}
	}

	return nil
}

type pvcRule struct{}

func (*pvcRule) Apply(rn *yaml.RNode) error {
	if rn.GetKind() != "PersistentVolumeClaim" {
		return nil
	}

	spec, err := rn.Pipe(yaml.Lookup("spec"))
	if err != nil {
		return err
	}

	if spec != nil {
		if err := clearFields(spec, pvcSpecDrops); err != nil {
			return err
		}
	}

	meta, err := rn.Pipe(yaml.Lookup("metadata"))
	if err != nil || meta == nil {
		return err
	}

	return cleanAnnotations(meta, pvcAnnotationDrops)
}

func clearFields(rn *yaml.RNode, fields []string) error {
	for _, field := range fields {
		if err := rn.PipeE(yaml.Clear(field)); err != nil {
			return err
		}
	}

	return nil
}

// cleanAnnotations removes kubectl bookkeeping annotations (plus any
// extra exact keys) from the metadata node, dropping the annotations
// map entirely when it ends up empty.
func cleanAnnotations(meta *yaml.RNode, extra []string) error {
	annotations, err := meta.Pipe(yaml.Lookup("annotations"))
	if err != nil || annotations == nil {
		return err
	}

	keys, err := annotations.Fields()
	if err != nil {
		return err
	}

	for _, key := range keys {
		if !dropAnnotation(key, extra) {
			continue
		}

		if err := annotations.PipeE(yaml.Clear(key)); err != nil {
			return err
		}
	}

	return clearIfEmpty(meta, annotations, "annotations")
}

func dropAnnotation(key string, extra []string) bool {
	for _, prefix := range annotationDropPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}

	for _, suffix := range annotationDropSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}

	for _, exact := range extra {
		if key == exact {
			return true
		}
	}

	return false
}

func cleanLabels(meta *yaml.RNode) error {
	labels, err := meta.Pipe(yaml.Lookup("labels"))
	if err != nil || labels == nil {
		return err
	}

	for _, key := range labelDrops {
		if err := labels.PipeE(yaml.Clear(key)); err != nil {
			return err
		}
	}

	return clearIfEmpty(meta, labels, "labels")
}

// clearIfEmpty removes a map field once cleaning emptied it; an empty
// map is never emitted.
func clearIfEmpty(parent, child *yaml.RNode, field string) error {
	keys, err := child.Fields()
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		return nil
	}

	return parent.PipeE(yaml.Clear(field))
}
