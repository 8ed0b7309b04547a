package commands

import (
	"fmt"

	"github.com/casr-dev/casr/internal/pipeline"
	"github.com/casr-dev/casr/internal/provider"
	"github.com/casr-dev/casr/internal/providerset"
	"github.com/spf13/cobra"
)

var (
	convertSource string
	convertForce  bool
	convertEnrich bool
	convertDryRun bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <target> <session-id>",
	Short: "Convert a session transcript to another provider's format",
	Long: `Convert reads a session identified by --source (a provider alias, a
file path, or left unset to auto-detect across every installed provider)
and writes it out in the <target> provider's format.

Examples:
  casr convert gmi abc123              # auto-detect the source provider
  casr convert codex abc123 --source claude
  casr convert factory abc123 --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVar(&convertSource, "source", "", "Source provider alias, or a file path; omit to auto-detect")
	convertCmd.Flags().BoolVar(&convertForce, "force", false, "Overwrite an existing target session (backs it up first)")
	convertCmd.Flags().BoolVar(&convertEnrich, "enrich", false, "Prepend synthetic context messages noting the conversion")
	convertCmd.Flags().BoolVar(&convertDryRun, "dry-run", false, "Run the full pipeline without writing anything")
}

func runConvert(cmd *cobra.Command, args []string) error {
	targetAlias, sessionID := args[0], args[1]

	reg := providerset.Default()
	p := pipeline.New(reg)

	result, err := p.Convert(pipeline.Options{
		TargetAlias: targetAlias,
		SessionID:   sessionID,
		Source:      provider.ParseSourceHint(convertSource),
		Force:       convertForce,
		Enrich:      convertEnrich,
		DryRun:      convertDryRun,
	})
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
	}
	for _, i := range result.Info {
		fmt.Fprintf(cmd.OutOrStdout(), "info: %s\n", i)
	}

	switch {
	case result.DryRun:
		fmt.Fprintf(cmd.OutOrStdout(), "dry run: would write session %q (%d messages)\n",
			result.Session.SessionID, len(result.Session.Messages))
	case result.NoopSameProvider:
		fmt.Fprintf(cmd.OutOrStdout(), "session %q is already in %q format; nothing to do\n",
			result.Written.SessionID, targetAlias)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "converted session %q\nresume with: %s\n",
			result.Written.SessionID, result.Written.ResumeCommand)
	}
	return nil
}
