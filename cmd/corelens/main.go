// Package main is the corelens command: a dispatch harness that runs
// diagnostic modules against a kernel inspection target. Each registered
// module becomes a subcommand; report and watch run all of them.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/richl9/drgn-tools/internal/config"
	"github.com/richl9/drgn-tools/internal/inflightio"
	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/ksnap"
	"github.com/richl9/drgn-tools/internal/lockup"
	"github.com/richl9/drgn-tools/internal/modules"
	"github.com/richl9/drgn-tools/internal/sysinfo"
	"github.com/richl9/drgn-tools/internal/watcher"
	"github.com/richl9/drgn-tools/internal/wqlockup"
)

// version is set at build time via -ldflags.
var version = "dev"

// harness wires config, logger, registry and the CLI together.
type harness struct {
	cfg          *config.Config
	logger       *zap.Logger
	registry     *modules.Registry
	snapshotPath string
}

func main() {
	// Config and logger must exist before the module subcommands register
	// their flags, so the config/log flags are pre-parsed ahead of cobra.
	cfgPath, logLevel := earlyFlags(os.Args[1:])
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	h := &harness{
		cfg:    cfg,
		logger: initLogger(cfg),
	}
	defer h.logger.Sync()

	h.registry = modules.NewRegistry(h.logger)
	for _, m := range []modules.Module{
		inflightio.New(h.logger, cfg.Report.Diskname),
		wqlockup.New(h.logger),
		lockup.New(h.logger, cfg.Report.LockupMinRunTime.Duration.Seconds()),
		sysinfo.New(h.logger),
	} {
		if err := h.registry.Register(m); err != nil {
			h.logger.Fatal("Module registration failed", zap.Error(err))
		}
	}

	if err := h.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// earlyFlags extracts --config and --log-level before cobra parses anything.
// Unknown flags belong to the subcommands and are ignored here.
func earlyFlags(args []string) (cfgPath, logLevel string) {
	fs := pflag.NewFlagSet("early", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfgPath, "config", "", "")
	fs.StringVar(&logLevel, "log-level", "", "")
	_ = fs.Parse(args)
	return cfgPath, logLevel
}

func (h *harness) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "corelens",
		Short: "Kernel diagnostic reports over a pluggable inspection target",
		Long: `Corelens runs diagnostic modules against a kernel inspection target
and prints line-oriented reports: in-flight block I/O, workqueue lockups,
CPU lockups, and target identity.

The kernel-introspection backend is pluggable; in-tree, --snapshot replays
a previously captured YAML snapshot of kernel state.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&h.snapshotPath, "snapshot", "", "YAML kernel snapshot to inspect")

	for _, m := range h.registry.All() {
		root.AddCommand(h.moduleCommand(m))
	}
	root.AddCommand(h.listCmd())
	root.AddCommand(h.reportCmd())
	root.AddCommand(h.watchCmd())
	root.AddCommand(versionCmd())
	return root
}

// openKernel attaches to the inspection target.
func (h *harness) openKernel() (kcore.Kernel, error) {
	if h.snapshotPath == "" {
		return nil, fmt.Errorf("no inspection target: pass --snapshot <file> (live kernel access needs an external introspection backend)")
	}
	return ksnap.Load(h.snapshotPath)
}

// moduleCommand wraps one diagnostic module as a subcommand.
func (h *harness) moduleCommand(m modules.Module) *cobra.Command {
	cmd := &cobra.Command{
		Use:   m.Name(),
		Short: m.Synopsis(),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := h.openKernel()
			if err != nil {
				return err
			}
			return m.Run(cmd.Context(), k, os.Stdout)
		},
	}
	m.Flags(cmd.Flags())
	return cmd
}

func (h *harness) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available diagnostic modules",
		Run: func(cmd *cobra.Command, args []string) {
			for _, m := range h.registry.All() {
				fmt.Printf("%-20s %s\n", m.Name(), m.Synopsis())
			}
		},
	}
}

func (h *harness) reportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Run every diagnostic module and print one combined report",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := h.openKernel()
			if err != nil {
				return err
			}
			return h.runAll(cmd.Context(), k, os.Stdout)
		},
	}
}

// runAll runs every registered module in name order, separated by banners.
// A module failure does not stop the remaining modules; failures are
// aggregated into the returned error.
func (h *harness) runAll(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	var errs error
	for _, m := range h.registry.All() {
		fmt.Fprintf(out, "====== MODULE %s ======\n", m.Name())
		if err := m.Run(ctx, k, out); err != nil {
			h.logger.Error("Module failed",
				zap.String("module", m.Name()),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
		fmt.Fprintln(out)
	}
	return errs
}

func (h *harness) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run all diagnostic modules on an interval, storing reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := watcher.New(h.cfg.Watch, h.logger, func(ctx context.Context) ([]byte, error) {
				k, err := h.openKernel()
				if err != nil {
					return nil, err
				}
				var buf bytes.Buffer
				if err := h.runAll(ctx, k, &buf); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			})
			if err != nil {
				return fmt.Errorf("initializing report store: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				h.logger.Info("Received signal, shutting down",
					zap.String("signal", sig.String()))
				cancel()
			}()

			h.logger.Info("Watching",
				zap.Duration("interval", h.cfg.Watch.Interval.Duration),
				zap.String("dir", h.cfg.Watch.Dir))
			w.Start(ctx)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corelens %s\n", version)
		},
	}
}

// initLogger creates a zap logger based on the configuration. Diagnostics go
// to stderr so report output on stdout stays clean; a JSON log file is added
// when configured.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
