package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "regsync",
	Short:         "Pipeline <-> registry record sync (listener, processor, transmitter)",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "regsync: %v\n", err)
		os.Exit(1)
	}
}

func writeCompletion(w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletionV2(w, true)
	case "zsh":
		return rootCmd.GenZshCompletion(w)
	case "fish":
		return rootCmd.GenFishCompletion(w, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(w)
	}
	return fmt.Errorf("unsupported shell %q", shell)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "regsync config file (yaml)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the regsync build version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "regsync %s\n", version)
			},
		},
		&cobra.Command{
			Use:   "completion <shell>",
			Short: "Print a completion script for bash, zsh, fish or powershell",
			Long: "Print a shell completion script for regsync. Completion covers subcommands,\n" +
				"field map keys for `regsync fields set|unset` and the supported shells.",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return writeCompletion(cmd.OutOrStdout(), args[0])
			},
		},
	)
}
