package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorarias/c0lor-mem/internal/config"
	"github.com/victorarias/c0lor-mem/internal/store"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent batches",
	RunE: func(cmd *cobra.Command, _ []string) error {
		h, err := store.Open(config.HistoryPath())
		if err != nil {
			return err
		}
		defer h.Close()

		recs, err := h.Recent(flagHistoryLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no batches yet")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tDONE\tFAILED\tSTARTED\tTOOK")
		for _, r := range recs {
			took := "-"
			if r.FinishedAt != nil {
				took = r.FinishedAt.Sub(r.FirstSeen).Round(time.Second).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%s\t%s\n",
				r.ID, r.Status, r.Completed, r.Total, r.Failed,
				r.FirstSeen.Local().Format("2006-01-02 15:04:05"), took)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "Number of batches to show")
}
