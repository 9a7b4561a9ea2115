package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/DeusData/tapaconv/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history [--db <history.db>] [--input <kernel.cpp>]",
	Short: "List recorded conversion runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().String("db", "", "history database (default: --history, else the user cache)")
	historyCmd.Flags().String("input", "", "only runs of this input")
	historyCmd.Flags().Int("limit", 20, "maximum runs to list")
	historyCmd.Flags().Int("prune", 0, "keep only the newest N runs, then list")
	historyCmd.Flags().Bool("json", false, "print runs as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	input, _ := cmd.Flags().GetString("input")
	limit, _ := cmd.Flags().GetInt("limit")
	prune, _ := cmd.Flags().GetInt("prune")
	asJSON, _ := cmd.Flags().GetBool("json")

	if dbPath == "" {
		dbPath, _ = cmd.Flags().GetString("history")
	}
	var (
		s   *store.Store
		err error
	)
	if dbPath == "" {
		s, err = store.Open()
	} else {
		s, err = store.OpenPath(dbPath)
	}
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer s.Close()

	if prune > 0 {
		n, err := s.PruneRuns(prune)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "pruned %d runs\n", n)
	}

	runs, err := s.ListRuns(input, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tTOP\tINPUT\tDETAIL")
	for _, r := range runs {
		status := okColor.Sprint(r.Status)
		detail := r.OutputHash
		if r.Status == store.StatusError {
			status = errorColor.Sprint(r.Status)
			detail = r.Error
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt, status, r.Top, r.Input, detail)
	}
	return tw.Flush()
}
