// Command driftlab runs clock-drift simulations and serves their results.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/driftlab/driftlab"
	"github.com/driftlab/driftlab/internal/adapters/jsonl"
	"github.com/driftlab/driftlab/internal/adapters/sqlite"
	"github.com/driftlab/driftlab/internal/analysis"
	"github.com/driftlab/driftlab/internal/cliconfig"
	"github.com/driftlab/driftlab/internal/watch"
	"github.com/driftlab/driftlab/internal/web"
	"github.com/driftlab/driftlab/pkg/log"
)

// Set via ldflags at release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const helpDescription = `
Simulate machines whose clocks tick at different drawn rates, exchange
timestamped messages, and keep causal order with logical clocks.

Every run records one event per tick per machine: the event kind, the
logical clock after it, and the queue it drained. Records land in per-run
jsonl files and a sqlite store, ready for the analyze report or the live
observer.
`

var exampleUsage = strings.TrimSpace(`
  driftlab run --processes 5 --duration 1m --seed 42
  driftlab analyze --json
  driftlab serve --addr :8080
  driftlab watch --config driftlab.toml
`)

func getVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return version
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "driftlab",
		Short:         "Simulate drifting machine clocks kept causal by logical clocks",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: driftlab.toml)")
	root.PersistentFlags().StringVar(&cfg.DB, "db", cfg.DB, "sqlite store path, empty disables persistence")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (trace|debug|info|warn|error)")
	root.PersistentFlags().StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console|json)")

	root.AddCommand(
		newRunCmd(&cfg, &cfgPath),
		newAnalyzeCmd(&cfg, &cfgPath),
		newRunsCmd(&cfg, &cfgPath),
		newServeCmd(&cfg, &cfgPath),
		newWatchCmd(&cfg, &cfgPath),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "driftlab: %v\n", err)
		os.Exit(1)
	}
}

// addSimFlags binds the simulation knobs shared by run, serve, and watch.
func addSimFlags(cmd *cobra.Command, cfg *cliconfig.Config) {
	cmd.Flags().IntVar(&cfg.Processes, "processes", cfg.Processes, "number of simulated machines")
	cmd.Flags().DurationVar(&cfg.Duration, "duration", cfg.Duration, "wall-clock length of one run")
	cmd.Flags().IntVar(&cfg.MaxClockRate, "max-clock-rate", cfg.MaxClockRate, "upper bound of the tick rate draw")
	cmd.Flags().IntVar(&cfg.EventUpper, "event-upper", cfg.EventUpper, "upper bound of the idle-tick event draw")
	cmd.Flags().IntVar(&cfg.SendOneCut, "send-one-cut", cfg.SendOneCut, "draws at or below this send to one peer (0 disables)")
	cmd.Flags().IntVar(&cfg.SendAllCut, "send-all-cut", cfg.SendAllCut, "draws at or below this, above send-one-cut, send to all peers (0 disables)")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "master seed, 0 draws one per run")
	cmd.Flags().DurationVar(&cfg.Settle, "settle", cfg.Settle, "gap between building a run and its common start")
	cmd.Flags().StringVar(&cfg.ResultsDir, "results-dir", cfg.ResultsDir, "directory for per-run record files, empty disables")
}

// resolveConfig applies the precedence chain onto cfg: explicitly set flags,
// then DRIFTLAB_* environment variables, then the TOML file, then defaults.
func resolveConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (map[string]bool, error) {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	path := cfgPath
	if path == "" {
		path = cliconfig.DefaultConfigFile
		// The default file is optional; an explicit --config must exist.
		if !cliconfig.FileExists(path) {
			path = ""
		}
	} else if !cliconfig.FileExists(path) {
		return nil, fmt.Errorf("config file %s not found", path)
	}

	if path != "" {
		fc, err := cliconfig.LoadFileConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return nil, err
		}
	}
	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return changed, nil
}

// buildLogger constructs the zerolog backend for a validated config.
func buildLogger(cfg cliconfig.Config) (log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	var zl zerolog.Logger
	switch cfg.LogFormat {
	case "json":
		zl = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	default:
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		zl = zerolog.New(output).Level(level).With().Timestamp().Logger()
	}
	return log.NewZerologAdapterWithLogger(zl), nil
}

// labConfig maps the CLI configuration onto the library configuration.
func labConfig(cfg cliconfig.Config) driftlab.Config {
	return driftlab.Config{
		Processes:    cfg.Processes,
		Duration:     cfg.Duration,
		MaxClockRate: cfg.MaxClockRate,
		EventUpper:   cfg.EventUpper,
		SendOneCut:   cfg.SendOneCut,
		SendAllCut:   cfg.SendAllCut,
		Seed:         cfg.Seed,
		Runs:         cfg.Runs,
		Settle:       cfg.Settle,
		ResultsDir:   cfg.ResultsDir,
		DB:           cfg.DB,
	}
}

func newRunCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the configured number of simulation runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, cfg, *cfgPath); err != nil {
				return err
			}
			logger, err := buildLogger(*cfg)
			if err != nil {
				return err
			}

			lab, err := driftlab.New(labConfig(*cfg),
				driftlab.WithLogger(logger),
				driftlab.WithEventHandler(runPrinter{out: os.Stdout}),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := lab.Close(); err != nil {
					logger.Error("close lab", log.Err(err))
				}
			}()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return lab.Run(ctx)
		},
	}
	addSimFlags(cmd, cfg)
	cmd.Flags().IntVar(&cfg.Runs, "runs", cfg.Runs, "how many runs to execute back to back")
	return cmd
}

func newAnalyzeCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	var (
		jsonOut bool
		dir     string
	)
	cmd := &cobra.Command{
		Use:   "analyze [run-id]",
		Short: "Report per-process and cross-process clock statistics for a run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, cfg, *cfgPath); err != nil {
				return err
			}

			var (
				run   driftlab.RunMeta
				procs []driftlab.ProcessMeta
				recs  []driftlab.Record
			)
			if dir != "" {
				if len(args) == 1 {
					return errors.New("pass a run id or --dir, not both")
				}
				var err error
				run, procs, recs, err = loadRunDir(dir)
				if err != nil {
					return err
				}
			} else {
				store, err := openStore(*cfg)
				if err != nil {
					return err
				}
				defer store.Close()
				ctx := cmd.Context()

				if len(args) == 1 {
					run, err = store.Run(ctx, args[0])
				} else {
					run, err = store.LatestRun(ctx)
				}
				if err != nil {
					return err
				}

				if procs, err = store.Processes(ctx, run.ID); err != nil {
					return err
				}
				if recs, err = store.Records(ctx, run.ID, driftlab.NoProcess); err != nil {
					return err
				}
			}

			res := analysis.Analyze(run, procs, recs)
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return analysis.WriteReport(os.Stdout, res)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the analysis as JSON")
	cmd.Flags().StringVar(&dir, "dir", "", "analyze a results directory instead of the store")
	return cmd
}

// loadRunDir reads a results directory: its record files plus the metadata
// file when present. Directories written before a crash may lack metadata;
// the directory name then stands in for the run id.
func loadRunDir(dir string) (driftlab.RunMeta, []driftlab.ProcessMeta, []driftlab.Record, error) {
	info, err := jsonl.ReadMeta(dir)
	if err != nil {
		return driftlab.RunMeta{}, nil, nil, err
	}
	if info.Run.ID == "" {
		info.Run.ID = filepath.Base(dir)
	}
	recs, err := jsonl.ReadRun(dir)
	if err != nil {
		return driftlab.RunMeta{}, nil, nil, err
	}
	return info.Run, info.Processes, recs, nil
}

func newRunsCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List persisted runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, cfg, *cfgPath); err != nil {
				return err
			}
			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs(cmd.Context())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tPROCS\tSEED\tSTATUS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Duration,
					r.Processes,
					r.Seed,
					r.Status,
				)
			}
			return w.Flush()
		},
	}
}

func newServeCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP observer: run queries, launches, and the live record stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, cfg, *cfgPath); err != nil {
				return err
			}
			logger, err := buildLogger(*cfg)
			if err != nil {
				return err
			}

			store, err := openStore(*cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := web.NewHub(logger)
			go hub.Run(ctx)

			lab, err := driftlab.New(labConfig(*cfg),
				driftlab.WithLogger(logger),
				driftlab.WithStore(store),
				driftlab.WithRecordSink(hub.RecordSink()),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := lab.Close(); err != nil {
					logger.Error("close lab", log.Err(err))
				}
			}()

			httpSrv := &http.Server{
				Addr:    cfg.ServeAddr,
				Handler: web.NewServer(store, lab, hub, logger),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("observer listening", log.String("addr", cfg.ServeAddr))
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			if err := lab.Stop(); err != nil && !errors.Is(err, driftlab.ErrNotRunning) {
				logger.Error("stop run", log.Err(err))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	addSimFlags(cmd, cfg)
	cmd.Flags().StringVar(&cfg.ServeAddr, "addr", cfg.ServeAddr, "observer listen address")
	return cmd
}

func newWatchCmd(cfg *cliconfig.Config, cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run the simulation whenever the config file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			path := *cfgPath
			if path == "" {
				path = cliconfig.DefaultConfigFile
			}

			// Flag values are pinned now; every trigger overlays the current
			// file and environment onto this snapshot, so a key removed from
			// the file falls back to its flag or default value.
			flagCfg := *cfg

			logger, err := buildLogger(watchLoggerConfig(flagCfg, changed))
			if err != nil {
				return err
			}

			run := func(ctx context.Context) error {
				work := flagCfg
				if cliconfig.FileExists(path) {
					fc, err := cliconfig.LoadFileConfig(path)
					if err != nil {
						return err
					}
					if err := cliconfig.ApplyFileConfig(&work, fc, changed); err != nil {
						return err
					}
				}
				if err := cliconfig.ApplyEnvConfig(&work, changed); err != nil {
					return err
				}
				if err := work.Validate(); err != nil {
					return err
				}

				lab, err := driftlab.New(labConfig(work),
					driftlab.WithLogger(logger),
					driftlab.WithEventHandler(runPrinter{out: os.Stdout}),
				)
				if err != nil {
					return err
				}
				defer func() {
					if err := lab.Close(); err != nil {
						logger.Error("close lab", log.Err(err))
					}
				}()
				return lab.Run(ctx)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch.New(path, watch.DefaultDebounce, run, logger).Run(ctx)
		},
	}
	addSimFlags(cmd, cfg)
	cmd.Flags().IntVar(&cfg.Runs, "runs", cfg.Runs, "how many runs to execute per trigger")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version, commit, and build date",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("driftlab %s (commit %s, built %s, %s/%s)\n",
				getVersion(), commit, date, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// openStore opens the sqlite run store, failing when persistence is
// disabled.
func openStore(cfg cliconfig.Config) (*sqlite.Store, error) {
	if cfg.DB == "" {
		return nil, fmt.Errorf("run store disabled, set --db or the db config key")
	}
	return sqlite.New(cfg.DB)
}

// watchLoggerConfig resolves just the logging fields for the watcher's own
// logger, which must exist before the first config load and survive invalid
// edits. Errors fall back to defaults.
func watchLoggerConfig(flagCfg cliconfig.Config, changed map[string]bool) cliconfig.Config {
	lcfg := flagCfg
	_ = cliconfig.ApplyEnvConfig(&lcfg, changed)
	if _, err := log.ParseLevel(lcfg.LogLevel); err != nil {
		lcfg.LogLevel = cliconfig.DefaultLogLevel
	}
	return lcfg
}

// runPrinter prints the one-line outcome of each run to stdout.
type runPrinter struct {
	driftlab.BaseEventHandler
	out io.Writer
}

func (p runPrinter) OnRunFinished(ev driftlab.RunFinishedEvent) {
	elapsed := ev.Run.FinishedAt.Sub(ev.Run.StartedAt).Round(time.Millisecond)
	if ev.Run.Error != "" {
		fmt.Fprintf(p.out, "run %s %s after %s: %s\n", ev.Run.ID, ev.Run.Status, elapsed, ev.Run.Error)
		return
	}
	fmt.Fprintf(p.out, "run %s %s in %s: seed=%d processes=%d\n",
		ev.Run.ID, ev.Run.Status, elapsed, ev.Run.Seed, ev.Run.Processes)
}
