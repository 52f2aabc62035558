// Command japamala listens while you chant a mantra and plays a reminder
// when you fall silent or drift off the words.
//
// Usage:
//
//	japamala [--config japamala.yaml] <command>
//
// Commands:
//
//	record     capture a new mantra from the microphone
//	listen     start a listening session
//	status     show the saved mantra and settings
//	threshold  set the silence threshold in seconds
//	forget     clear the recorded mantra
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/japamala/internal/app"
	"github.com/MrWong99/japamala/internal/config"
	"github.com/MrWong99/japamala/internal/observe"
	"github.com/MrWong99/japamala/internal/session"
)

// version is set by the linker.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "japamala:", err)
		return 1
	}
	return 0
}

// env is what every subcommand needs once the config is loaded.
type env struct {
	cfgPath  string
	cfg      *config.Config
	logLevel *slog.LevelVar
	tel      *observe.Telemetry
	app      *app.App
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "japamala",
		Short:         "Chanting companion that reminds you when you stop or stray",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&e.cfgPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(
		newListenCmd(e),
		newRecordCmd(e),
		newStatusCmd(e),
		newThresholdCmd(e),
		newForgetCmd(e),
	)
	return root
}

// setup loads the config, installs the logger and telemetry and wires the
// app. The returned cleanup shuts everything down.
func (e *env) setup(ctx context.Context) (cleanup func(), err error) {
	if e.cfgPath != "" {
		e.cfg, err = config.Load(e.cfgPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", e.cfgPath)
			}
			return nil, err
		}
	} else {
		e.cfg = config.Default()
	}

	e.logLevel = new(slog.LevelVar)
	e.logLevel.Set(app.SlogLevel(e.cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: e.logLevel})))

	slog.Info("japamala starting",
		"config", e.cfgPath,
		"listen_addr", e.cfg.Server.ListenAddr,
		"log_level", e.cfg.Server.LogLevel,
	)

	e.tel, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(e.cfg, reg)
	if err != nil {
		_ = e.tel.Shutdown(ctx)
		return nil, fmt.Errorf("build providers: %w", err)
	}

	e.app, err = app.New(ctx, e.cfg, providers,
		app.WithMetrics(e.tel.Metrics),
		app.WithLogLevel(e.logLevel),
	)
	if err != nil {
		_ = e.tel.Shutdown(ctx)
		return nil, err
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.app.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		if err := e.tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newListenCmd(e *env) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Start a listening session",
		Long: `Start a listening session for the saved mantra.

A reminder plays when nothing matching the mantra was heard for the silence
threshold, or when a confident fragment clearly does not belong to it.
Press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cleanup, err := e.setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if e.cfgPath != "" {
				w, err := config.NewWatcher(e.cfgPath, e.app.ApplyConfig)
				if err != nil {
					slog.Warn("config hot reload disabled", "err", err)
				} else {
					defer w.Stop()
				}
			}

			printStartupSummary(cmd.OutOrStdout(), e.cfg, e.app)
			if e.app.Phrase() == "" {
				return fmt.Errorf("%w: run 'japamala record' first", session.ErrNoMantraRecorded)
			}

			return e.app.Run(ctx, e.tel.Handler, func(ctx context.Context) error {
				displayCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				if !quiet {
					go liveDisplay(displayCtx, cmd.OutOrStdout(), e.app.Status, renderListen)
				}
				err := e.app.Listen(ctx)
				cancel()
				fmt.Fprintln(cmd.OutOrStdout())
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not draw the live transcript")
	return cmd
}

func newRecordCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Record a new mantra",
		Long: `Record a new mantra by chanting it once or twice.

Recognised words appear as you speak. Press Enter to save the phrase or
Ctrl-C to discard it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cleanup, err := e.setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			return e.app.Run(ctx, e.tel.Handler, func(ctx context.Context) error {
				if err := e.app.StartRecording(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, styles.help.Render("Chant your mantra, then press Enter to save (Ctrl-C to discard)."))

				displayCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go liveDisplay(displayCtx, out, e.app.Status, renderRecord)

				enter := make(chan struct{})
				go func() {
					buf := make([]byte, 1)
					for {
						if _, err := cmd.InOrStdin().Read(buf); err != nil || buf[0] == '\n' {
							close(enter)
							return
						}
					}
				}()

				select {
				case <-ctx.Done():
					cancel()
					e.app.CancelRecording()
					fmt.Fprintln(out, "\nRecording discarded.")
					return nil
				case <-enter:
				}
				cancel()
				phrase, err := e.app.CommitRecording()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "\n"+styles.label.Render("Saved mantra:")+" "+styles.mantra.Render(phrase))
				return nil
			})
		},
	}
}

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved mantra and settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := e.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			printStartupSummary(cmd.OutOrStdout(), e.cfg, e.app)
			return nil
		},
	}
}

func newThresholdCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "threshold <seconds>",
		Short: "Set the silence threshold (1-10 seconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secs, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("threshold %q is not a whole number of seconds", args[0])
			}
			cleanup, err := e.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.app.SetSilenceThreshold(time.Duration(secs) * time.Second); err != nil {
				return err
			}
			got := e.app.Listener().Config().SilenceThreshold
			fmt.Fprintf(cmd.OutOrStdout(), "Silence threshold set to %d seconds.\n", int(got/time.Second))
			return nil
		},
	}
}

func newForgetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the recorded mantra",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cleanup, err := e.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := e.app.ForgetMantra(); err != nil {
				return err
			}
			if p := e.app.Phrase(); p != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded mantra cleared; using the configured %q.\n", p)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Recorded mantra cleared.")
			}
			return nil
		},
	}
}
