package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/tapaconv/internal/config"
	"github.com/DeusData/tapaconv/internal/discover"
	"github.com/DeusData/tapaconv/internal/pipeline"
	"github.com/DeusData/tapaconv/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch --dir <kernels/> [--out-dir <out/>]",
	Short: "Convert every kernel under a directory concurrently",
	Args:  cobra.NoArgs,
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringP("dir", "d", "", "directory to scan for kernel sources")
	batchCmd.Flags().String("out-dir", "", "write converted files here, mirroring the input tree (default: <name>_tapa.cpp next to each input)")
	batchCmd.Flags().Int("jobs", 0, "parallel conversions (default: number of CPUs)")
	batchCmd.Flags().Bool("headers", false, "also convert .h/.hpp files")
	batchCmd.Flags().Bool("changed", false, "skip kernels unchanged since their last successful run (needs --history)")
	_ = batchCmd.MarkFlagRequired("dir")
}

type batchItem struct {
	input     string
	output    string
	unchanged bool
	runOutcome
}

func runBatch(cmd *cobra.Command, _ []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	outDir, _ := cmd.Flags().GetString("out-dir")
	jobs, _ := cmd.Flags().GetInt("jobs")
	headers, _ := cmd.Flags().GetBool("headers")
	changed, _ := cmd.Flags().GetBool("changed")

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	files, err := discover.Discover(cmd.Context(), root, &discover.Options{IncludeHeaders: headers})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("discover: no kernel sources under %s", dir)
	}
	if outDir != "" {
		if outDir, err = filepath.Abs(outDir); err != nil {
			return err
		}
	}

	// the directory's own config decides where history goes
	_, cfg, err := loadConverter(cmd, filepath.Join(root, config.FileName))
	if err != nil {
		return err
	}
	hist := openHistory(cmd, cfg)
	if hist != nil {
		defer hist.Close()
	}
	if changed && hist == nil {
		return fmt.Errorf("batch: --changed needs a run history (--history or history.path)")
	}

	items := make([]batchItem, len(files))
	for i, f := range files {
		items[i] = batchItem{input: f.Path, output: outputPathFor(f.Path, root, outDir)}
	}
	if err := convertAll(cmd, items, jobs, hist, changed); err != nil {
		return err
	}

	failed := 0
	for _, it := range items {
		rel, _ := filepath.Rel(root, it.input)
		if it.err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", errorColor.Sprint("error:"), rel, it.err)
			continue
		}
		if it.unchanged {
			fmt.Fprintf(cmd.OutOrStdout(), "unchanged %s\n", rel)
			continue
		}
		printWarnings(cmd.ErrOrStderr(), it.res.Warnings)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", okColor.Sprint("converted"), rel, it.output)
	}
	if failed > 0 {
		return fmt.Errorf("batch: %d of %d kernels failed", failed, len(items))
	}
	return nil
}

// convertAll runs the conversions concurrently. Each job writes only its
// own slot in items; a failed conversion does not stop the others. With
// skipUnchanged, kernels whose last successful run saw the same bytes are
// left alone.
func convertAll(cmd *cobra.Command, items []batchItem, jobs int, hist *store.Store, skipUnchanged bool) error {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	var histMu sync.Mutex

	g, gctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(min(jobs, len(items)))
	for i := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			it := &items[i]
			if skipUnchanged {
				histMu.Lock()
				it.unchanged = upToDate(hist, it.input, it.output)
				histMu.Unlock()
				if it.unchanged {
					return nil
				}
			}
			conv, _, err := loadConverter(cmd, it.input)
			if err != nil {
				it.err = err
				return nil
			}
			it.started = time.Now()
			it.res, it.err = convertOne(gctx, conv, it.input, it.output, "")

			histMu.Lock()
			recordRun(hist, it.input, it.runOutcome)
			histMu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// upToDate reports whether the last successful run of input saw its current
// bytes and the converted file is still in place.
func upToDate(hist *store.Store, input, output string) bool {
	last, err := hist.LastSuccess(input)
	if err != nil || last == nil {
		return false
	}
	if _, err := os.Stat(output); err != nil {
		return false
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return false
	}
	return last.InputHash == pipeline.Fingerprint(data)
}

func convertOne(ctx context.Context, conv *pipeline.Converter, input, output, top string) (*pipeline.Result, error) {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", pipeline.StageWrite, err)
	}
	res, err := conv.Convert(ctx, pipeline.Request{Path: input, Top: top, Output: output})
	if err != nil {
		slog.Debug("batch.convert.err", "input", input, "err", err)
	}
	return res, err
}
