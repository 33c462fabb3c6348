package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/kustomize/kyaml/filesys"

	"github.com/chartcap/chartcap/pkg/export"
	"github.com/chartcap/chartcap/pkg/kubectl"
	"github.com/chartcap/chartcap/pkg/secrets"
)

type exportOpts struct {
	export.Options

	kubeconfig string
	context    string
	secretMode string
	noTemplate bool
	selections []string
}

func exportCommand() *cobra.Command {
	opts := &exportOpts{}

	cmd := &cobra.Command{
		Use:   "export RELEASE",
		Short: "Export a namespace as an installable Helm chart",
		Long: "Export collects the supported resource kinds from a namespace,\n" +
			"strips cluster-managed fields, applies the secret policy and writes\n" +
			"the result as a Helm chart with templated values.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Release = args[0]

			return opts.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Namespace, "namespace", "n", "default", "namespace to export")
	flags.StringVarP(&opts.OutputDir, "output-dir", "o", "", "chart output directory (default: release name)")
	flags.StringVarP(&opts.Selector, "selector", "l", "", "label selector applied to every listing")
	flags.StringSliceVar(&opts.OnlyKinds, "only", nil, "kind patterns to include (e.g. deployment,service)")
	flags.StringSliceVar(&opts.ExcludeKinds, "exclude", nil, "kind patterns to exclude")
	flags.StringArrayVar(&opts.selections, "select", nil, "explicit resource selection as Kind/name, repeatable")
	flags.StringVar(&opts.kubeconfig, "kubeconfig", "", "path to the kubeconfig file")
	flags.StringVar(&opts.context, "context", "", "kubeconfig context to use")
	flags.StringVar(&opts.Prefix, "prefix", "", "filename prefix for template files")
	flags.BoolVar(&opts.IncludeSecrets, "include-secrets", false, "export Secret resources")
	flags.BoolVar(&opts.IncludeServiceAccountSecrets, "include-service-account-secrets", false, "keep service account token secrets (implies --include-secrets)")
	flags.StringVar(&opts.secretMode, "secret-mode", "", "secret handling: include, skip, external-ref or encrypt")
	flags.BoolVar(&opts.Force, "force", false, "overwrite an existing output directory")
	flags.BoolVar(&opts.Lint, "lint", false, "run helm lint on the finished chart")
	flags.BoolVar(&opts.noTemplate, "no-template", false, "write manifests verbatim without Helm value templating")
	flags.StringVar(&opts.ChartVersion, "chart-version", "", "chart version (default "+`"0.1.0"`+")")
	flags.StringVar(&opts.AppVersion, "app-version", "", "chart appVersion (default: primary image tag)")
	flags.IntVar(&opts.Workers, "workers", export.DefaultWorkers, "parallel export workers")
	flags.BoolVar(&opts.Strict, "strict", false, "treat post-cleaning validation warnings as failures")

	return cmd
}

func (opts *exportOpts) run(cmd *cobra.Command) error {
	mode, err := secrets.ParseMode(opts.secretMode)
	if err != nil {
		return err
	}

	opts.SecretMode = mode
	opts.Template = !opts.noTemplate

	opts.Selection, err = parseSelections(opts.selections)
	if err != nil {
		return err
	}

	kctl := kubectl.New()
	if opts.kubeconfig != "" {
		kctl = kctl.Kubeconfig(opts.kubeconfig)
	}

	if opts.context != "" {
		kctl = kctl.Context(opts.context)
	}

	if clientVersion, err := kctl.Version(); err == nil {
		slog.Debug("kubectl client", "version", clientVersion.ClientVersion.GitVersion)
	}

	exporter := &export.Exporter{
		Client:  kctl,
		FileSys: filesys.MakeFsOnDisk(),
		Options: opts.Options,
	}

	report, err := exporter.Run()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Exported %d resources to %s\n", report.Exported, report.OutputPath)

	if report.Failed > 0 {
		fmt.Fprintf(out, "%d resources failed:\n", report.Failed)

		for _, failure := range report.Failures {
			fmt.Fprintf(out, "  %s/%s: %v\n", failure.Kind, failure.Name, failure.Err)
		}
	}

	return nil
}

// parseSelections turns repeated Kind/name pairs into a selection
// plan. A kind is only present when at least one name was given.
func parseSelections(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	plan := map[string][]string{}

	for _, entry := range raw {
		kind, name, found := strings.Cut(entry, "/")
		if !found || kind == "" || name == "" {
			return nil, fmt.Errorf("invalid --select entry %q: expected Kind/name", entry)
		}

		plan[kind] = append(plan[kind], name)
	}

	return plan, nil
}
