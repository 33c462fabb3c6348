package chart

import (
	"bytes"
	"fmt"
	"path/filepath"

	"sigs.k8s.io/kustomize/kyaml/filesys"
	"sigs.k8s.io/kustomize/kyaml/kio"
	"sigs.k8s.io/kustomize/kyaml/kio/kioutil"
	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// fileStore serializes manifests into a directory, one file per
// resource, running each serialized body through a post-processor
// before it hits the filesystem.
type fileStore struct {
	dir string
	filesys.FileSystem
	postProcess func(name string, body []byte) []byte
}

func (store *fileStore) write(name string, node *yaml.RNode) error {
	path := filepath.Join(store.dir, name)
	if err := store.MkdirAll(filepath.Dir(path)); err != nil {
		return fmt.Errorf("unable to initialize dir for %v: %w", path, err)
	}

	buf := &bytes.Buffer{}

	err := kio.ByteWriter{
		Writer: buf,

		ClearAnnotations: []string{kioutil.PathAnnotation},
	}.Write([]*yaml.RNode{node})
	if err != nil {
		return fmt.Errorf("unable to serialize %v: %w", path, err)
	}

	body := buf.Bytes()
	if store.postProcess != nil {
		body = store.postProcess(path, body)
	}

	if err := store.WriteFile(path, body); err != nil {
		return fmt.Errorf("unable to write %v: %w", path, err)
	}

	return nil
}
