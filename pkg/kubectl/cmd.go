// Package kubectl is the external-command boundary: it lists cluster
// resources by shelling out to kubectl and lints charts by shelling out
// to helm. Calls are retried per RetryPolicy and parsed into kyaml
// nodes; nothing above this package touches a process.
package kubectl

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"k8s.io/kubectl/pkg/cmd/version"
	"sigs.k8s.io/kustomize/kyaml/yaml"
)

// RunFunc executes an external command and returns its stdout. It is a
// field on Cmd so tests can substitute a fake process.
type RunFunc func(timeout time.Duration, name string, args ...string) ([]byte, error)

type Cmd struct {
	kubectl []string
	helm    []string

	Timeout time.Duration
	Retry   *RetryPolicy
	Run     RunFunc
}

func New() *Cmd {
	return &Cmd{
		kubectl: []string{"kubectl"},
		helm:    []string{"helm"},
		Timeout: DefaultTimeout,
		Retry:   DefaultRetryPolicy(),
	}
}

// Kubeconfig returns a copy of the command bound to an alternate
// kubeconfig file.
func (c *Cmd) Kubeconfig(path string) *Cmd {
	return c.withArgs("--kubeconfig", path)
}

// Context returns a copy of the command bound to a specific context.
func (c *Cmd) Context(name string) *Cmd {
	return c.withArgs("--context", name)
}

func (c *Cmd) withArgs(args ...string) *Cmd {
	clone := *c
	clone.kubectl = append(append([]string{}, c.kubectl...), args...)

	return &clone
}

func (c *Cmd) String() string {
	return strings.Join(c.kubectl, " ")
}

func run(timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	data, err := exec.CommandContext(ctx, name, args...).Output()

	switch err := err.(type) {
	case nil:
		return data, nil
	case *exec.ExitError:
		stderr := strings.TrimSpace(string(err.Stderr))
		if ctx.Err() != nil {
			return nil, fmt.Errorf("timed out after %v: %s", timeout, stderr)
		}

		return nil, fmt.Errorf("%v, stderr: %s", err, stderr)
	default:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("timed out after %v", timeout)
		}

		return nil, err
	}
}

func (c *Cmd) output(argv []string, args ...string) ([]byte, error) {
	runFn := c.Run
	if runFn == nil {
		runFn = run
	}

	args = append(append([]string{}, argv[1:]...), args...)
	desc := strings.Join(append([]string{argv[0]}, args...), " ")

	var data []byte
	op := func() error {
		var err error
		data, err = runFn(c.Timeout, argv[0], args...)

		return err
	}

	retry := c.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}

	if err := retry.Do(desc, op); err != nil {
		return nil, &Error{Op: desc, Err: err}
	}

	return data, nil
}

// outputOnce runs a command without retries, for cheap probes where a
// failure is an answer rather than a fault.
func (c *Cmd) outputOnce(argv []string, args ...string) ([]byte, error) {
	once := &RetryPolicy{MaxRetries: 0, InitialDelay: defaultInitialDelay, MaxDelay: defaultMaxDelay}
	clone := *c
	clone.Retry = once

	return clone.output(argv, args...)
}

// List fetches all resources of the given kind in the namespace,
// optionally narrowed by a label selector, sorted by name for a stable
// export layout.
func (c *Cmd) List(kind, namespace, selector string) ([]*yaml.RNode, error) {
	args := []string{"get", kind, "-n", namespace, "-ojson"}
	if selector != "" {
		args = append(args, "-l", selector)
	}

	data, err := c.output(c.kubectl, args...)
	if err != nil {
		return nil, err
	}

	nodes, err := parseItems(data)
	if err != nil {
		return nil, &Error{Op: c.String() + " " + strings.Join(args, " "), Err: err}
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].GetName() < nodes[j].GetName()
	})

	return nodes, nil
}

// Get fetches a single named resource. A "not found" response returns
// (nil, nil) rather than an error.
func (c *Cmd) Get(kind, name, namespace string) (*yaml.RNode, error) {
	data, err := c.output(c.kubectl, "get", kind, name, "-n", namespace, "-ojson")
	if IsNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return yaml.Parse(string(data))
}

// CheckConnection probes cluster reachability in a single attempt.
func (c *Cmd) CheckConnection() bool {
	_, err := c.outputOnce(c.kubectl, "cluster-info")

	return err == nil
}

// CanList probes list access for a kind in a namespace with a single
// cheap call.
func (c *Cmd) CanList(kind, namespace string) bool {
	_, err := c.outputOnce(c.kubectl, "get", kind, "-n", namespace, "--limit=1", "-oname")

	return err == nil
}

// Namespaces lists the names of the cluster's namespaces.
func (c *Cmd) Namespaces() ([]string, error) {
	data, err := c.output(c.kubectl, "get", "namespaces", "-oname")
	if err != nil {
		return nil, err
	}

	return parseResNames(data)
}

// Version reports the kubectl client version; it doubles as the
// "kubectl binary is present and runnable" prerequisite check.
func (c *Cmd) Version() (*version.Version, error) {
	data, err := c.outputOnce(c.kubectl, "version", "-ojson", "--client=true")
	if err != nil {
		return nil, err
	}

	v := &version.Version{}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, &Error{Op: c.String() + " version", Err: err}
	}

	return v, nil
}

// HelmAvailable reports whether the helm binary can be found.
func (c *Cmd) HelmAvailable() bool {
	if c.Run != nil {
		_, err := c.outputOnce(c.helm, "version", "--short")

		return err == nil
	}

	_, err := exec.LookPath(c.helm[0])

	return err == nil
}

// LintChart runs helm lint against a chart directory.
func (c *Cmd) LintChart(path string) error {
	_, err := c.outputOnce(c.helm, "lint", path)

	return err
}
