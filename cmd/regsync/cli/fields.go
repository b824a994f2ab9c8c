package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/config"
)

var fieldsJSON bool

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show or edit the registry field map in config.yaml",
}

var fieldsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List logical keys and their registry fields",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(cfgPath)
		if err != nil {
			return err
		}

		if fieldsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.Fields)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tFIELD")
		for _, k := range domain.FieldMapKeys {
			name, ok := cfg.Fields.Lookup(k)
			if !ok {
				name = "(unset)"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\n", k, name)
		}
		_ = w.Flush()
		return nil
	},
}

var fieldsSetCmd = &cobra.Command{
	Use:   "set <key> <field>",
	Short: "Map a logical key to a registry field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateField(args[0], strings.TrimSpace(args[1]))
	},
}

var fieldsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Stop syncing a logical key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateField(args[0], "")
	},
}

func updateField(key, field string) error {
	cfg, err := config.Read(cfgPath)
	if err != nil {
		return err
	}

	prev := cfg.Fields
	if err := cfg.Fields.Set(key, field); err != nil {
		return err
	}
	if cfg.Fields == prev {
		fmt.Printf("no change (%s already %q)\n", key, field)
		return nil
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	if field == "" {
		fmt.Printf("unset: %s\n", key)
	} else {
		fmt.Printf("%s -> %s\n", key, field)
	}
	return nil
}

func completeFieldKeys(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	out := make([]string, 0, len(domain.FieldMapKeys))
	for _, k := range domain.FieldMapKeys {
		if strings.HasPrefix(k, toComplete) {
			out = append(out, k)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	fieldsListCmd.Flags().BoolVar(&fieldsJSON, "json", false, "print JSON")

	fieldsSetCmd.ValidArgsFunction = completeFieldKeys
	fieldsUnsetCmd.ValidArgsFunction = completeFieldKeys

	fieldsCmd.AddCommand(fieldsListCmd, fieldsSetCmd, fieldsUnsetCmd)
	rootCmd.AddCommand(fieldsCmd)
}
