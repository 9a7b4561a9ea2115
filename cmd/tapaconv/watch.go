package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeusData/tapaconv/internal/config"
	"github.com/DeusData/tapaconv/internal/discover"
	"github.com/DeusData/tapaconv/internal/pipeline"
	"github.com/DeusData/tapaconv/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch --input <kernel.cpp|dir> [--output <out.cpp>]",
	Short: "Re-convert kernels whenever they change",
	Long: `watch polls the input (a kernel file or a directory of kernels) and runs a
full conversion of every file whose size or modification time changed. The
first poll only records a baseline; pass --initial to convert right away.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringP("input", "i", "", "kernel file or directory to watch")
	watchCmd.Flags().StringP("output", "o", "", "output file when watching a single kernel")
	watchCmd.Flags().StringP("top", "t", "", "top-level function (default: the only DATAFLOW function)")
	watchCmd.Flags().String("out-dir", "", "output directory when watching a directory")
	watchCmd.Flags().Bool("initial", false, "convert once before watching")
	_ = watchCmd.MarkFlagRequired("input")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	top, _ := cmd.Flags().GetString("top")
	outDir, _ := cmd.Flags().GetString("out-dir")
	initial, _ := cmd.Flags().GetBool("initial")

	root, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%s: %w", pipeline.StageRead, err)
	}
	if info.IsDir() && output != "" {
		return fmt.Errorf("watch: --output needs a single kernel file; use --out-dir for directories")
	}

	base := root
	if !info.IsDir() {
		base = filepath.Dir(root)
	}
	_, cfg, err := loadConverter(cmd, filepath.Join(base, config.FileName))
	if err != nil {
		return err
	}
	hist := openHistory(cmd, cfg)
	if hist != nil {
		defer hist.Close()
	}
	target := func(path string) string {
		if output != "" {
			return output
		}
		return outputPathFor(path, base, outDir)
	}

	onChange := func(ctx context.Context, path string) error {
		conv, _, err := loadConverter(cmd, path)
		if err != nil {
			return err
		}
		out := target(path)
		started := time.Now()
		res, err := convertOne(ctx, conv, path, out, top)
		recordRun(hist, path, runOutcome{started: started, res: res, err: err})
		if err != nil {
			printError(cmd.ErrOrStderr(), err)
			return err
		}
		printWarnings(cmd.ErrOrStderr(), res.Warnings)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s -> %s\n",
			time.Now().Format("15:04:05"), okColor.Sprint("converted"), path, out)
		return nil
	}

	ctx := cmd.Context()
	if initial {
		if err := initialPass(ctx, root, onChange); err != nil {
			slog.Warn("watch.initial.err", "err", err)
		}
	}
	slog.Info("watch.start", "input", root)
	watcher.New([]string{root}, onChange).Run(ctx)
	return nil
}

// initialPass converts every kernel under root once.
func initialPass(ctx context.Context, root string, onChange watcher.ChangeFunc) error {
	files, err := discover.Discover(ctx, root, nil)
	if err != nil {
		return err
	}
	var firstErr error
	for _, f := range files {
		if err := onChange(ctx, f.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
