package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/config"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Turn registry push on or off for a pipeline project",
}

func newPushToggle(use, short string, on bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := contextWithTimeout(cmd, 30*time.Second)
			defer cancel()

			pipe := newPipeline(cfg, "")
			pr, err := pipe.Project(ctx, name)
			if err != nil {
				return fmt.Errorf("project %q: %w", name, err)
			}
			if pr.BoolAttrib(domain.AttribRegistryPush) == on {
				fmt.Printf("no change (project %q already %sd)\n", name, use)
				return nil
			}

			if err := pipe.SetProjectAttrib(ctx, name, domain.AttribRegistryPush, on); err != nil {
				return err
			}
			fmt.Printf("%sd: %s\n", use, name)
			return nil
		},
	}
}

func init() {
	pushCmd.AddCommand(
		newPushToggle("enable", "Push version events of the project into the registry", true),
		newPushToggle("disable", "Stop pushing version events of the project", false),
	)
	rootCmd.AddCommand(pushCmd)
}
