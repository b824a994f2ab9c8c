package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davarch/regsync/internal/domain"
	"github.com/davarch/regsync/internal/infrastructure/config"
	"github.com/davarch/regsync/internal/infrastructure/status_fs"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last outcome written by each loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Read(cfgPath)
		if err != nil {
			return err
		}
		dir := status_fs.New(config.ExpandHome(cfg.Status.Dir))

		var items []domain.Snapshot
		for _, c := range []string{componentListener, componentProcessor, componentTransmitter} {
			s, err := dir.Read(c)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return err
			}
			items = append(items, s)
		}

		if statusJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "COMPONENT\tOUTCOME\tEVENT\tPAYLOADS\tDROPPED\tTIME")
		for _, s := range items {
			ref := s.EventID
			if ref == "" {
				ref = s.PayloadID
			}
			if ref == "" {
				ref = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				s.Component, s.Outcome, ref, s.Payloads, s.Dropped,
				time.Unix(s.Retrieved, 0).Local().Format(time.DateTime))
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}
