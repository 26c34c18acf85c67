package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/market"
	"github.com/sells-group/refi-monitor/internal/model"
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Manage rate snapshots",
}

var ratesImportCmd = &cobra.Command{
	Use:   "import <path|url>",
	Short: "Fetch a rate sheet and save it as the latest snapshot",
	Long:  "Fetches a rate sheet from a local file (.yaml, .json, .csv, .xlsx), an http(s) feed or an ftp:// drop and stores it as the latest snapshot.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		src, err := market.Open(args[0], marketOptions())
		if err != nil {
			return eris.Wrap(err, "open rate source")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := newFeed(src, nil).GetCurrentRates(ctx)
		if err != nil {
			return eris.Wrap(err, "import rates")
		}
		if len(snap.Quotes) == 0 {
			return eris.Errorf("rate sheet %s has no valid quotes", src.Name())
		}

		id, err := st.SaveSnapshot(ctx, *snap)
		if err != nil {
			return eris.Wrap(err, "save snapshot")
		}

		cache, closeCache, err := initCache(ctx)
		if err != nil {
			zap.L().Warn("rate cache unavailable", zap.Error(err))
		} else if cache != nil {
			defer closeCache()
			if err := cache.Invalidate(ctx); err != nil {
				zap.L().Warn("invalidate rate cache", zap.Error(err))
			}
		}

		zap.L().Info("rates imported",
			zap.String("id", id),
			zap.String("source", snap.Source),
			zap.Int("quotes", len(snap.Quotes)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d quotes from %s as snapshot %s\n", len(snap.Quotes), snap.Source, id)
		return nil
	},
}

var ratesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest stored snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := st.LatestSnapshot(ctx)
		if err != nil {
			return eris.Wrap(err, "latest snapshot")
		}
		return writeSnapshot(cmd.OutOrStdout(), *snap)
	},
}

func writeSnapshot(out io.Writer, snap model.Snapshot) error {
	fmt.Fprintf(out, "source: %s\nfetched: %s\n\n", snap.Source, snap.FetchedAt.Format("2006-01-02 15:04 MST"))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TERM\tTIER\tRATE")
	for _, q := range snap.Quotes {
		tier := q.CreditTier
		if tier == "" {
			tier = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s%%\n", q.TermMonths, tier, q.AnnualRatePercent.StringFixed(3))
	}
	return w.Flush()
}

func init() {
	ratesCmd.AddCommand(ratesImportCmd, ratesShowCmd)
	rootCmd.AddCommand(ratesCmd)
}
