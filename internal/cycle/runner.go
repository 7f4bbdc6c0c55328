// Package cycle schedules the two reconcile flows. The attendance cycle runs
// on every tick and gates itself through the persisted checkpoint, so an
// extra invocation is always a no-op. The template flow runs on its own,
// much longer interval and under a lock file, because two template runs
// against the same terminals corrupt the tracked state.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/rs/zerolog"

	"github.com/meden/biosync/internal/attendance"
	"github.com/meden/biosync/internal/bcontext"
	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/fingerprint"
	"github.com/meden/biosync/internal/model"
)

// staleLockAge is how old a leftover template lock file must be before a new
// run may break it. Template batches are minutes long, not hours.
const staleLockAge = 2 * time.Hour

type Runner struct {
	cfg         config.Application
	attendance  *attendance.Reconciler
	fingerprint *fingerprint.Reconciler
	store       *checkpoint.Store
	notifier    *raven.Client
	logger      zerolog.Logger

	cycles uint64
}

func New(
	cfg config.Application,
	att *attendance.Reconciler,
	fp *fingerprint.Reconciler,
	store *checkpoint.Store,
	notifier *raven.Client,
	logger zerolog.Logger,
) *Runner {
	return &Runner{
		cfg:         cfg,
		attendance:  att,
		fingerprint: fp,
		store:       store,
		notifier:    notifier,
		logger:      logger.With().Str("pkg", "cycle").Logger(),
	}
}

// Run loops until ctx is canceled. A failed cycle is logged and captured,
// never fatal; the service outlives every device and HR outage.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info().
		Dur("pull_frequency", r.cfg.PullFrequency.Std()).
		Dur("template_frequency", r.cfg.Template.Frequency.Std()).
		Msg("starting scheduler")

	ticker := time.NewTicker(r.cfg.PullFrequency.Std())
	defer ticker.Stop()

	r.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("scheduler stopped")
			return
		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

// Tick runs one scheduling step: always the attendance cycle, and the
// template flow when its interval elapsed.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	r.cycles++
	ctx = bcontext.WithCycleID(ctx, r.cycles)

	r.runAttendance(ctx, now)

	due, err := r.templateDue(now)
	if err != nil {
		r.logger.Error().Err(err).Msg("reading template checkpoint")
		return
	}

	if due {
		r.RunTemplate(ctx, now)
	}
}

func (r *Runner) runAttendance(ctx context.Context, now time.Time) {
	defer r.recoverPanic("attendance")

	logger := r.logger.With().Uint64("cycle", bcontext.CycleID(ctx)).Logger()

	if bypassed, reason := r.cfg.IsBypassed(config.OpAttendance, now); bypassed {
		logger.Info().Str("reason", reason).Msg("attendance cycle bypassed")
		return
	}

	patterns, err := config.LoadPatterns(r.cfg.PatternsPath)
	if err != nil {
		logger.Error().Err(err).Msg("loading error patterns, using defaults")
		patterns = config.DefaultPatterns()
	}

	err = r.attendance.ReconcileAll(ctx, patterns, now)
	switch {
	case errors.Is(err, model.ErrCycleTooSoon):
		logger.Debug().Msg("cycle gate closed, skipping")
	case err != nil:
		logger.Error().Err(err).Msg("attendance cycle failed")
		r.capture(err, "attendance")
	default:
		logger.Info().Msg("attendance cycle finished")
	}
}

// RunTemplate executes one template batch under the lock file. A concurrent
// holder means another process is mid-batch; this run is skipped, not queued.
func (r *Runner) RunTemplate(ctx context.Context, now time.Time) {
	defer r.recoverPanic("template")

	logger := r.logger.With().Uint64("cycle", bcontext.CycleID(ctx)).Logger()

	if bypassed, reason := r.cfg.IsBypassed(config.OpTemplate, now); bypassed {
		logger.Info().Str("reason", reason).Msg("template flow bypassed")
		return
	}

	unlock, err := r.acquireLock()
	if err != nil {
		logger.Warn().Err(err).Msg("template flow already running, skipping")
		return
	}
	defer unlock()

	results, err := r.fingerprint.Sync(ctx, now)
	if err != nil {
		logger.Error().Err(err).Msg("template flow failed")
		r.capture(err, "template")
		return
	}

	logger.Info().Int("employees", len(results)).Msg("template flow finished")
}

func (r *Runner) templateDue(now time.Time) (bool, error) {
	cp, err := r.store.TemplateGlobal()
	if err != nil {
		return false, err
	}

	if cp.LastSync == nil {
		return true, nil
	}

	return now.Sub(*cp.LastSync) >= r.cfg.Template.Frequency.Std(), nil
}

func (r *Runner) lockPath() string {
	return filepath.Join(r.cfg.StateDir, "template.lock")
}

// acquireLock takes the template lock file exclusively. A lock older than
// staleLockAge is treated as a crash leftover and broken.
func (r *Runner) acquireLock() (unlock func(), err error) {
	path := r.lockPath()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if os.IsExist(err) {
		info, errStat := os.Stat(path)
		if errStat != nil || time.Since(info.ModTime()) < staleLockAge {
			return nil, fmt.Errorf("lock file %s held", path)
		}

		r.logger.Warn().Str("path", path).Msg("breaking stale template lock")
		if err = os.Remove(path); err != nil {
			return nil, err
		}

		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		return nil, err
	}

	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = f.Close()

	return func() { _ = os.Remove(path) }, nil
}

func (r *Runner) recoverPanic(flow string) {
	rec := recover()
	if rec == nil {
		return
	}

	err := fmt.Errorf("panic in %s flow: %v", flow, rec)
	r.logger.Error().Err(err).Msg("recovered")
	r.capture(err, flow)
}

func (r *Runner) capture(err error, flow string) {
	if r.notifier == nil {
		return
	}

	r.notifier.CaptureError(err, map[string]string{"flow": flow})
}
