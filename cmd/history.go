package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/microgrid/core/journal"
)

var (
	historyStatus string
	historySince  time.Duration
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print journaled control cycles",
	RunE:  history,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only cycles with this status (optimal, heuristic, aborted, ...)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "only cycles younger than this")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of cycles")
	rootCmd.AddCommand(historyCmd)
}

func history(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("journal is disabled in the configuration")
	}
	defer store.Close()

	q := journal.Query{Status: historyStatus, Limit: historyLimit}
	if historySince > 0 {
		q.Start = time.Now().Add(-historySince)
	}
	recs, err := store.Query(context.Background(), q)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []journal.Record{}
	}
	return writeJSON(cmd.OutOrStdout(), recs)
}
