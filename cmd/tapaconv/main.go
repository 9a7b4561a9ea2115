package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/DeusData/tapaconv/internal/config"
	"github.com/DeusData/tapaconv/internal/pipeline"
	"github.com/DeusData/tapaconv/internal/store"
	"github.com/DeusData/tapaconv/internal/tools"
)

var version = "dev"

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	okColor      = color.New(color.FgGreen)
)

var rootCmd = &cobra.Command{
	Use:   "tapaconv",
	Short: "Convert HLS dataflow kernels to the TAPA task dialect",
	Long: `tapaconv rewrites an HLS C++ kernel built on hls::stream channels and raw
pointer ports into TAPA: channel directions are resolved across the task
hierarchy, m_axi ports become tapa::mmap handles and the top-level function
becomes a tapa::task() invocation list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		setupLogging(cmd.ErrOrStderr(), verbose)
		mode, _ := cmd.Flags().GetString("color")
		return setupColor(mode)
	},
}

func main() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate("tapaconv {{.Version}}\n")
	tools.Version = version

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log every pipeline stage at debug level")
	rootCmd.PersistentFlags().String("config", "", "config file (default: .tapaconv.yaml next to the input)")
	rootCmd.PersistentFlags().String("history", "", "record runs in this SQLite database")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler. Logs go to stderr so
// converted output on stdout stays clean.
func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// setupColor applies --color. auto colors only when stderr is a terminal.
func setupColor(mode string) error {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stderr)
	default:
		return fmt.Errorf("--color must be auto, on or off, got %q", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// printError writes "error: <stage>: <detail>".
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorColor.Sprint("error:"), err)
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "%s %s\n", warningColor.Sprint("warning:"), msg)
	}
}

// loadConverter builds a converter from --config, or from the
// .tapaconv.yaml next to input.
func loadConverter(cmd *cobra.Command, input string) (*pipeline.Converter, *config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, input)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	return pipeline.New(cfg.Options()), cfg, nil
}

// historyPath returns --history, falling back to the config's history.path.
func historyPath(cmd *cobra.Command, cfg *config.Config) string {
	if p, _ := cmd.Flags().GetString("history"); p != "" {
		return p
	}
	if cfg != nil {
		return cfg.History.Path
	}
	return ""
}

// openHistory opens the run history when one is configured. A store that
// cannot be opened disables recording with a warning.
func openHistory(cmd *cobra.Command, cfg *config.Config) *store.Store {
	path := historyPath(cmd, cfg)
	if path == "" {
		return nil
	}
	s, err := store.OpenPath(path)
	if err != nil {
		slog.Warn("history.open.err", "path", path, "err", err)
		return nil
	}
	return s
}

func recordRun(s *store.Store, input string, run runOutcome) {
	if s == nil {
		return
	}
	rec, channels := store.RunFromResult(input, run.started, run.res, run.err)
	if _, err := s.RecordRun(rec, channels); err != nil {
		slog.Warn("history.record.err", "input", input, "err", err)
	}
}

// outputPathFor names the converted file for input: <stem>_tapa<ext>,
// placed in outDir when set.
func outputPathFor(input, root, outDir string) string {
	ext := filepath.Ext(input)
	name := input[:len(input)-len(ext)] + "_tapa" + ext
	if outDir == "" {
		return name
	}
	rel, err := filepath.Rel(root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(name)
	}
	return filepath.Join(outDir, rel)
}
