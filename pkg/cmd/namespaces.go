package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chartcap/chartcap/pkg/kubectl"
)

func namespacesCommand() *cobra.Command {
	kubeconfig := ""
	context := ""

	cmd := &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces visible in the current context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kctl := kubectl.New()
			if kubeconfig != "" {
				kctl = kctl.Kubeconfig(kubeconfig)
			}

			if context != "" {
				kctl = kctl.Context(context)
			} else if current, err := kubectl.CurrentContext(kubeconfig); err == nil && current != "" {
				slog.Debug("using current context", "context", current)
			}

			names, err := kctl.Namespaces()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintln(out, name)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "path to the kubeconfig file")
	cmd.Flags().StringVar(&context, "context", "", "kubeconfig context to use")

	return cmd
}
