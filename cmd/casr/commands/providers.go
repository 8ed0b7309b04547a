package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/casr-dev/casr/internal/providerset"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var providersOutput string

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show which providers casr can detect on this machine",
	RunE:  runProviders,
}

func init() {
	providersCmd.Flags().StringVar(&providersOutput, "output", "table", "Output format: table or yaml")
}

func runProviders(cmd *cobra.Command, args []string) error {
	reg := providerset.Default()
	statuses := reg.DetectAll()

	if providersOutput == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(statuses)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSLUG\tINSTALLED\tEVIDENCE\t")
	for _, s := range statuses {
		installed := "no"
		if s.Installed {
			installed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", s.Name, s.Slug, installed, strings.Join(s.Evidence, "; "))
	}
	return w.Flush()
}
