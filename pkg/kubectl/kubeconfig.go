package kubectl

import (
	"fmt"
	"sort"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// CurrentContext resolves the active context name from the kubeconfig,
// without spawning a process. An empty kubeconfig path follows the
// default loading rules (KUBECONFIG, ~/.kube/config).
func CurrentContext(kubeconfig string) (string, error) {
	cfg, err := loadKubeconfig(kubeconfig)
	if err != nil {
		return "", err
	}

	return cfg.CurrentContext, nil
}

// Contexts lists the context names defined in the kubeconfig, sorted.
func Contexts(kubeconfig string) ([]string, error) {
	cfg, err := loadKubeconfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

func loadKubeconfig(kubeconfig string) (*clientcmdapi.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}

	cfg, err := rules.Load()
	if err != nil {
		return nil, fmt.Errorf("unable to load kubeconfig: %w", err)
	}

	return cfg, nil
}
