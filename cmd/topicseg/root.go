package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"topicseg/internal/app"
	"topicseg/internal/config"
	"topicseg/internal/domain"
	"topicseg/internal/logger"
	"topicseg/internal/stream"
	"topicseg/internal/trace"
	"topicseg/internal/tui"
)

type rootFlags struct {
	configPath string
	policy     string
	threshold  float64
	format     string
	sqlitePath string
	useTUI     bool
	verbose    bool
	stats      bool
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:   "topicseg [file|-]",
		Short: "Split a text stream into topic segments",
		Long: `Reads text incrementally, extracts sentences and groups consecutive
sentences into topic segments as they arrive. Reads stdin when no file
or "-" is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to YAML or TOML config (default ./topicseg.yaml or ~/.config/topicseg/config.yaml)")
	cmd.Flags().StringVar(&f.policy, "policy", "", "boundary policy: embedding or heuristic")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "cosine similarity needed to extend a segment")
	cmd.Flags().StringVar(&f.format, "format", "", "output format: text, jsonl or sqlite")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", "", "database file for sqlite output")
	cmd.Flags().BoolVar(&f.useTUI, "tui", false, "show segments in a live viewer")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log diagnostics to stderr")
	cmd.Flags().BoolVar(&f.stats, "stats", false, "print run statistics to stderr")

	cmd.AddCommand(newInitConfigCmd())
	return cmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "topicseg.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Save(path, config.Default()); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			cmd.Printf("Wrote %s\n", path)
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command, f rootFlags) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if f.configPath == "" {
		var path string
		cfg, path, err = config.LoadDefault()
		if err == nil {
			logger.Debug("using config %s", path)
		}
	} else {
		cfg, err = config.Load(f.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Segmenter.Policy = f.policy
	}
	if flags.Changed("threshold") {
		cfg.Segmenter.Threshold = f.threshold
	}
	if flags.Changed("format") {
		cfg.Output.Format = f.format
	}
	if flags.Changed("sqlite-path") {
		cfg.Output.SQLitePath = f.sqlitePath
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbose = f.verbose
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openInput(args []string) (io.ReadCloser, string, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), "stdin", nil
	}
	fh, err := os.Open(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", domain.ErrIO, err)
	}
	return fh, filepath.Base(args[0]), nil
}

func runSegment(cmd *cobra.Command, args []string, f rootFlags) error {
	logger.SetVerbose(f.verbose)
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return err
	}
	logger.SetVerbose(cfg.Log.Verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := trace.Initialize(ctx, trace.Config{
		ServiceName:    "topicseg",
		ServiceVersion: version,
		ExporterType:   cfg.Trace.Exporter,
		OTLPEndpoint:   cfg.Trace.OTLPEndpoint,
		SamplingRate:   cfg.Trace.SamplingRate,
	}); err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			logger.Warn("tracing shutdown: %v", err)
		}
	}()

	in, name, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	var out io.Writer = cmd.OutOrStdout()
	if f.useTUI {
		out = io.Discard
	}
	p, err := app.Build(cfg, out)
	if err != nil {
		return err
	}

	var stats stream.Stats
	if f.useTUI {
		stats, err = runTUI(ctx, p, in, name)
	} else {
		stats, err = p.Run(ctx, in)
	}
	if f.stats || logger.IsVerbose() {
		fmt.Fprintln(cmd.ErrOrStderr(), describe(stats))
	}
	return err
}

func runTUI(ctx context.Context, p *app.Pipeline, in io.Reader, name string) (stream.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(tui.New(name), tea.WithAltScreen(), tea.WithContext(ctx))
	p.OnSegment = func(seg domain.Segment) { program.Send(tui.SegmentMsg(seg)) }

	type outcome struct {
		stats stream.Stats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		stats, err := p.Run(ctx, in)
		program.Send(tui.DoneMsg{Summary: describe(stats), Err: err})
		done <- outcome{stats, err}
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return stream.Stats{}, fmt.Errorf("viewer: %w", err)
	}
	// leaving the viewer stops the run
	cancel()
	res := <-done
	if errors.Is(res.err, context.Canceled) {
		return res.stats, nil
	}
	return res.stats, res.err
}

func describe(s stream.Stats) string {
	msg := fmt.Sprintf("%d segments from %d sentences (%d bytes)", s.Segments, s.Sentences, s.BytesRead)
	if s.Skipped > 0 {
		msg += fmt.Sprintf(", %d unscored", s.Skipped)
	}
	if s.Replacements > 0 {
		msg += fmt.Sprintf(", %d invalid byte sequences replaced", s.Replacements)
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d trailing bytes dropped", s.Dropped)
	}
	return msg
}
