package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeusData/tapaconv/internal/pipeline"
)

var convertCmd = &cobra.Command{
	Use:   "convert --input <kernel.cpp> [--output <out.cpp>]",
	Short: "Convert one kernel file",
	Args:  cobra.NoArgs,
	RunE:  runConvert,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze --input <kernel.cpp>",
	Short: "Print the resolved task graph, channels and directions as JSON",
	Args:  cobra.NoArgs,
	RunE:  runAnalyze,
}

func init() {
	for _, cmd := range []*cobra.Command{convertCmd, analyzeCmd} {
		cmd.Flags().StringP("input", "i", "", "kernel source file")
		cmd.Flags().StringP("top", "t", "", "top-level function (default: the only DATAFLOW function)")
		_ = cmd.MarkFlagRequired("input")
	}
	convertCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
}

// runOutcome is one finished conversion, as recorded in the history.
type runOutcome struct {
	started time.Time
	res     *pipeline.Result
	err     error
}

func runConvert(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")
	top, _ := cmd.Flags().GetString("top")
	output, _ := cmd.Flags().GetString("output")

	conv, cfg, err := loadConverter(cmd, input)
	if err != nil {
		return err
	}
	hist := openHistory(cmd, cfg)
	if hist != nil {
		defer hist.Close()
	}

	started := time.Now()
	res, err := conv.Convert(cmd.Context(), pipeline.Request{Path: input, Top: top, Output: output})
	recordRun(hist, input, runOutcome{started: started, res: res, err: err})
	if err != nil {
		return err
	}

	printWarnings(cmd.ErrOrStderr(), res.Warnings)
	if output == "" {
		fmt.Fprint(cmd.OutOrStdout(), res.Output)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s -> %s (top %s, %d tasks, %d channels)\n",
		okColor.Sprint("converted"), input, output, res.Top, len(res.Tasks), len(res.Channels))
	return nil
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")
	top, _ := cmd.Flags().GetString("top")

	conv, _, err := loadConverter(cmd, input)
	if err != nil {
		return err
	}
	res, err := conv.Analyze(cmd.Context(), pipeline.Request{Path: input, Top: top})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
