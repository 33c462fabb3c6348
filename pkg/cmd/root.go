// Package cmd wires the CLI surface onto the export pipeline.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func RootCommand() *cobra.Command {
	verbose := false

	root := &cobra.Command{
		Use:           "chartcap",
		Short:         "Capture live Kubernetes resources as a Helm chart",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}

			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(exportCommand())
	root.AddCommand(namespacesCommand())

	return root
}
