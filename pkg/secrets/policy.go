// Package secrets decides what happens to Secret resources during an
// export: include them verbatim, drop them, or replace them with a stub
// that documents an out-of-band dependency.
package secrets

import (
	"fmt"
	"log/slog"

	"sigs.k8s.io/kustomize/kyaml/yaml"
)

type Mode string

const (
	// ModeInclude passes cleaned secrets through unchanged.
	ModeInclude Mode = "include"
	// ModeSkip omits every secret from the chart.
	ModeSkip Mode = "skip"
	// ModeExternalRef replaces each secret with a placeholder that
	// keeps only identity and type; the data must be provisioned
	// out-of-band.
	ModeExternalRef Mode = "external-ref"
	// ModeEncrypt is reserved for sealed-secrets style integration.
	// It currently behaves like include and logs a warning.
	ModeEncrypt Mode = "encrypt"
)

const serviceAccountTokenType = "kubernetes.io/service-account-token"

func ParseMode(raw string) (Mode, error) {
	switch mode := Mode(raw); mode {
	case ModeInclude, ModeSkip, ModeExternalRef, ModeEncrypt:
		return mode, nil
	case "":
		return ModeInclude, nil
	default:
		return "", fmt.Errorf("unknown secret mode %q", raw)
	}
}

type Policy struct {
	Mode Mode
}

// Process applies the policy to a cleaned secret. A nil result means
// the secret is omitted from the chart.
func (p *Policy) Process(secret *yaml.RNode) (*yaml.RNode, error) {
	switch p.Mode {
	case ModeSkip:
		return nil, nil
	case ModeExternalRef:
		return externalRef(secret)
	case ModeEncrypt:
		slog.Warn("secret encryption not implemented, including as-is",
			"secret", secret.GetName())

		return secret, nil
	default:
		return secret, nil
	}
}

// IsServiceAccountToken reports whether the secret is a cluster-managed
// service-account token. These are regenerated by the cluster and are
// excluded from exports unless explicitly requested.
func IsServiceAccountToken(secret *yaml.RNode) bool {
	value, err := secret.Pipe(yaml.Lookup("type"))
	if err != nil || value == nil {
		return false
	}

	return yaml.GetValue(value) == serviceAccountTokenType
}

// Filter drops service-account token secrets unless includeTokens is
// set, preserving input order.
func Filter(nodes []*yaml.RNode, includeTokens bool) []*yaml.RNode {
	if includeTokens {
		return nodes
	}

	kept := []*yaml.RNode{}

	for _, rn := range nodes {
		if IsServiceAccountToken(rn) {
			slog.Debug("skipping service account secret", "secret", rn.GetName())

			continue
		}

		kept = append(kept, rn)
	}

	return kept
}

// externalRef builds the placeholder secret: identity and type survive,
// data does not.
func externalRef(secret *yaml.RNode) (*yaml.RNode, error) {
	apiVersion := secret.GetApiVersion()
	if apiVersion == "" {
		apiVersion = "v1"
	}

	secretType := "Opaque"
	if value, err := secret.Pipe(yaml.Lookup("type")); err == nil && value != nil {
		secretType = yaml.GetValue(value)
	}

	name := secret.GetName()

	stub := fmt.Sprintf(`apiVersion: %s
kind: Secret
metadata:
  name: %s
  annotations:
    helm.sh/external-secret: "true"
    helm.sh/external-secret-source: "External secret '%s' - must be created separately"
type: %s
`, apiVersion, name, name, secretType)

	rn, err := yaml.Parse(stub)
	if err != nil {
		return nil, fmt.Errorf("unable to build external reference for %s: %w", name, err)
	}

	return rn, nil
}
