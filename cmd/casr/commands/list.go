package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/casr-dev/casr/internal/providerset"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var listOutput string

var listCmd = &cobra.Command{
	Use:   "list <provider>",
	Short: "List sessions found for one provider",
	Long: `List walks a provider's known session directories and prints every
session file found there, by session id and path.

Example:
  casr list claude
  casr list claude --output yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listOutput, "output", "table", "Output format: table or yaml")
}

func runList(cmd *cobra.Command, args []string) error {
	reg := providerset.Default()
	c, ok := reg.FindByAlias(args[0])
	if !ok {
		return fmt.Errorf("unknown provider %q", args[0])
	}

	sessions, err := reg.ListSessions(c.Slug())
	if err != nil {
		return err
	}

	if listOutput == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		defer enc.Close()
		return enc.Encode(sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION ID\tPATH\t")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t\n", s.SessionID, s.Path)
	}
	return w.Flush()
}
