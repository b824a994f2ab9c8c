package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/davarch/regsync/internal/infrastructure/config"
)

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

var verifyCmd = &cobra.Command{
	Use:   "verify-token",
	Short: "Check the registry token and resolve the configured base",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, cancel := contextWithTimeout(cmd, time.Minute)
		defer cancel()

		reg, info, err := newRegistry(ctx, cfg, newPipeline(cfg, ""))
		if err != nil {
			return err
		}
		fmt.Printf("user:   %s\n", info.UserID)
		fmt.Printf("scopes: %s\n", strings.Join(info.Scopes, ", "))

		base, err := resolveBase(ctx, reg, cfg.Registry.BaseName)
		if err != nil {
			return err
		}
		fmt.Printf("base:   %s (%s)\n", base.Name, base.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
