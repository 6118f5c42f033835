package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/runstore"
)

func newRunsCmd(opts *rootOptions) *cobra.Command {
	var (
		kind   string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recorded runs, or one run's summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return withExitCode(errors.New("run history is disabled (store.enabled=false)"), exitConfig)
			}
			store, err := runstore.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			p := opts.printer()
			enc := json.NewEncoder(opts.out)
			enc.SetIndent("", "  ")

			if len(args) == 1 {
				summary, err := store.Get(ctx, args[0])
				if errors.Is(err, runstore.ErrNotFound) {
					return qerrors.Newf(qerrors.ErrCodeInvalidInput, "no run with id %q", args[0])
				}
				if err != nil {
					return err
				}
				if asJSON {
					return enc.Encode(summary)
				}
				p.summary(summary)
				return nil
			}

			records, err := store.List(ctx, kind, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return enc.Encode(records)
			}
			agg, err := store.Summary(ctx)
			if err != nil {
				return err
			}
			p.aggregate(agg)
			p.runs(records)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only show runs of this kind (web or api)")
	cmd.Flags().IntVar(&limit, "limit", runstore.RecentLimit, "maximum number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
