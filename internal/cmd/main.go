package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meden/biosync"
	"github.com/meden/biosync/internal/api"
	"github.com/meden/biosync/internal/attendance"
	"github.com/meden/biosync/internal/audit"
	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/cycle"
	"github.com/meden/biosync/internal/fingerprint"
	"github.com/meden/biosync/internal/health"
	"github.com/meden/biosync/internal/hrapi"
	"github.com/meden/biosync/internal/terminal"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "biosync",
		Short:         "Reconciles biometric terminals with the HR system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to config")

	cmd.AddCommand(newRunCommand(&configPath))
	cmd.AddCommand(newOnceCommand(&configPath))
	cmd.AddCommand(newStatusCommand(&configPath))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// service holds everything both the daemon and one-shot commands need.
type service struct {
	cfg      config.Application
	logger   zerolog.Logger
	notifier *raven.Client
	store    *checkpoint.Store
	ledger   *audit.Ledger
	hr       hrapi.Client
	health   health.Store
}

func buildService(configPath string) (*service, error) {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Debug {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	notifier, err := raven.New(cfg.SentryDSN)
	if err != nil {
		return nil, fmt.Errorf("creating sentry client: %w", err)
	}
	notifier.SetRelease(biosync.Revision)
	notifier.SetEnvironment(biosync.Env)

	store, err := checkpoint.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	ledger, err := audit.New(cfg.LogsDir)
	if err != nil {
		return nil, err
	}

	hr, err := hrapi.New(cfg.HR)
	if err != nil {
		return nil, fmt.Errorf("creating hr client: %w", err)
	}

	return &service{
		cfg:      cfg,
		logger:   logger,
		notifier: notifier,
		store:    store,
		ledger:   ledger,
		hr:       hr,
		health:   health.New(),
	}, nil
}

// buildRunner opens the configured protocol driver and wires both reconcile
// flows. Split from buildService so commands that never touch a terminal,
// like status, work without any driver registered.
func (s *service) buildRunner() (*cycle.Runner, error) {
	dialer, err := terminal.Open(s.cfg.TerminalDriver)
	if err != nil {
		return nil, err
	}

	locks := terminal.NewLocks()
	att := attendance.New(s.cfg, dialer, locks, s.hr, s.store, s.ledger, s.health, s.logger)
	fp := fingerprint.New(s.cfg, dialer, locks, s.hr, s.store, s.health, s.logger)

	return cycle.New(s.cfg, att, fp, s.store, s.notifier, s.logger), nil
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the reconcile daemon with the operational HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(*configPath)
			if err != nil {
				return err
			}

			runner, err := svc.buildRunner()
			if err != nil {
				return err
			}

			svc.logger.Info().
				Str("revision", biosync.Revision).
				Str("branch", biosync.Branch).
				Str("env", biosync.Env).
				Msg("starting service")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var httpAPI *api.HTTP
			if svc.cfg.HTTP != nil {
				httpAPI, err = api.NewHTTP(svc.cfg, svc.store, svc.health, svc.notifier, svc.logger)
				if err != nil {
					return err
				}

				httpAPI.Serve()
			}

			go runner.Run(ctx)

			s := make(chan os.Signal, 1)
			signal.Notify(s, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
			<-s

			svc.logger.Info().Msg("shutting down")
			cancel()

			if httpAPI != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer shutdownCancel()

				if errShut := httpAPI.Shutdown(shutdownCtx); errShut != nil {
					svc.logger.Error().Err(errShut).Msg("error shutting down server")
				}
			}

			return nil
		},
	}
}

func newOnceCommand(configPath *string) *cobra.Command {
	var (
		force     bool
		templates bool
	)

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single reconcile cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(*configPath)
			if err != nil {
				return err
			}

			runner, err := svc.buildRunner()
			if err != nil {
				return err
			}

			if force {
				global, errGlobal := svc.store.Global()
				if errGlobal != nil {
					return errGlobal
				}

				global.LastCycleAt = nil
				if errGlobal = svc.store.SaveGlobal(global); errGlobal != nil {
					return errGlobal
				}
			}

			now := time.Now()
			runner.Tick(cmd.Context(), now)

			if templates {
				runner.RunTemplate(cmd.Context(), now)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "ignore the cycle gate and pull now")
	cmd.Flags().BoolVar(&templates, "templates", false, "also run the template flow even if not due")

	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print configuration and checkpoint summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService(*configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "revision: %s branch: %s env: %s\n", biosync.Revision, biosync.Branch, biosync.Env)
			fmt.Fprintf(out, "hr endpoint: %s\n", svc.cfg.HR.BaseURL)
			fmt.Fprintf(out, "pull frequency: %s, template frequency: %s\n",
				svc.cfg.PullFrequency.Std(), svc.cfg.Template.Frequency.Std())

			if err = svc.hr.TestConnection(cmd.Context()); err != nil {
				fmt.Fprintf(out, "hr connection: FAILED (%v)\n", err)
			} else {
				fmt.Fprintln(out, "hr connection: ok")
			}

			global, err := svc.store.Global()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "last cycle: %s\n", formatTime(global.LastCycleAt))
			fmt.Fprintf(out, "last completed: %s\n", formatTime(global.MissionAccomplishedAt))

			tmpl, err := svc.store.TemplateGlobal()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "last template sync: %s\n", formatTime(tmpl.LastSync))

			for _, dev := range svc.cfg.Devices {
				cp, errDev := svc.store.Device(dev.ID)
				if errDev != nil {
					return errDev
				}

				fmt.Fprintf(out, "device %s (%s): pull=%s push=%s buffered=%v\n",
					dev.ID, dev.Addr(),
					formatTime(cp.LastPullAt), formatTime(cp.LastPushAt),
					svc.store.HasBuffer(dev.ID))
			}

			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build revision",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "biosync %s (%s, %s)\n", biosync.Revision, biosync.Branch, biosync.Env)
		},
	}
}

func formatTime(ts *time.Time) string {
	if ts == nil {
		return "never"
	}

	return ts.Format(time.RFC3339)
}
