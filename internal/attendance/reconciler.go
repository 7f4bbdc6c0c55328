// Package attendance implements the device-to-HR punch flow: pull into a
// durable buffer, resume strictly after the last proven delivery, route each
// record through ignore/direction classification, and deliver with
// at-most-once-effective semantics against an API whose only duplicate
// detection is timestamp based.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/meden/biosync/internal/audit"
	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/health"
	"github.com/meden/biosync/internal/hrapi"
	"github.com/meden/biosync/internal/model"
	"github.com/meden/biosync/internal/terminal"
)

type Reconciler struct {
	cfg    config.Application
	dialer terminal.Dialer
	locks  *terminal.Locks
	hr     hrapi.Client
	store  *checkpoint.Store
	ledger *audit.Ledger
	health health.Store
	logger zerolog.Logger
}

func New(
	cfg config.Application,
	dialer terminal.Dialer,
	locks *terminal.Locks,
	hr hrapi.Client,
	store *checkpoint.Store,
	ledger *audit.Ledger,
	hs health.Store,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		dialer: dialer,
		locks:  locks,
		hr:     hr,
		store:  store,
		ledger: ledger,
		health: hs,
		logger: logger.With().Str("pkg", "attendance").Logger(),
	}
}

// ReconcileAll runs one attendance cycle over every configured device.
// Devices are processed sequentially and independently: one device failing
// never blocks another. A run suppressed by the cycle gate returns
// model.ErrCycleTooSoon.
func (r *Reconciler) ReconcileAll(ctx context.Context, patterns config.Patterns, now time.Time) error {
	global, err := r.store.Global()
	if err != nil {
		return err
	}

	if global.LastCycleAt != nil && now.Sub(*global.LastCycleAt) < r.cfg.PullFrequency.Std() {
		r.logger.Debug().
			Time("last_cycle_at", *global.LastCycleAt).
			Msg("cycle interval not elapsed, skipping")

		return model.ErrCycleTooSoon
	}

	global.LastCycleAt = &now
	global.MissionAccomplishedAt = nil
	if err = r.store.SaveGlobal(global); err != nil {
		return err
	}

	floor, err := r.cfg.ImportFloor()
	if err != nil {
		return err
	}

	cls := newClassifier(r.cfg.IgnoredUserIDs, r.cfg.OutValues, r.cfg.InValues)

	var failed int
	for _, dev := range r.cfg.Devices {
		errDevice := r.reconcileDevice(ctx, dev, patterns, cls, floor)
		if errDevice == nil {
			continue
		}

		// checkpoint failures poison every device's resume logic
		var serr model.StorageError
		if errors.As(errDevice, &serr) {
			return errDevice
		}

		failed++
		r.logger.Error().Err(errDevice).Str("device", dev.ID).Msg("device reconcile failed")
	}

	done := time.Now()
	global.MissionAccomplishedAt = &done
	if err = r.store.SaveGlobal(global); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("attendance cycle: %d of %d devices failed", failed, len(r.cfg.Devices))
	}

	return nil
}

// reconcileDevice drives one device through the buffer/deliver state machine.
func (r *Reconciler) reconcileDevice(ctx context.Context, dev model.Device, patterns config.Patterns, cls classifier, floor time.Time) error {
	logger := r.logger.With().Str("device", dev.ID).Logger()

	records, buffered, err := r.store.LoadBuffer(dev.ID)
	if err != nil {
		return err
	}

	if buffered {
		// never re-pull while a buffer exists: the device may have cleared
		// or mutated its internal log since the dump was taken
		logger.Info().Int("records", len(records)).Msg("retrying undelivered buffer")
	} else {
		records, err = r.pull(ctx, dev)
		if err != nil {
			return err
		}

		logger.Info().Int("records", len(records)).Msg("pulled fresh records")
	}

	resume := floor
	if last, ok, errLedger := r.ledger.LastSuccess(dev.ID); errLedger != nil {
		return errLedger
	} else if ok && last.After(resume) {
		resume = last
	}

	if err = r.deliver(ctx, dev, patterns, cls, records, resume); err != nil {
		// buffer stays intact so the failed record and everything after it
		// survive for the next cycle
		return err
	}

	if err = r.store.DeleteBuffer(dev.ID); err != nil {
		return err
	}

	now := time.Now()

	return r.store.SaveDevice(checkpoint.DeviceCheckpoint{DeviceID: dev.ID, LastPushAt: &now})
}

// pull opens a session, dumps the punch log to a durable buffer and only
// then optionally clears the device. Any connection failure is fatal for
// this device this cycle.
func (r *Reconciler) pull(ctx context.Context, dev model.Device) (records []model.AttendanceRecord, err error) {
	release := r.locks.Acquire(dev.ID)
	defer release()

	sess, err := r.dialer.Dial(ctx, dev)
	if err != nil {
		r.health.Report(dev.ID, err)
		return nil, err
	}

	r.health.Report(dev.ID, nil)

	defer func() {
		if errClose := sess.Disconnect(); errClose != nil && err == nil {
			err = fmt.Errorf("disconnecting: %w", errClose)
		}
	}()

	if err = sess.DisableIntake(); err != nil {
		return nil, fmt.Errorf("disabling intake: %w", err)
	}

	defer func() {
		if errEnable := sess.EnableIntake(); errEnable != nil && err == nil {
			err = fmt.Errorf("enabling intake: %w", errEnable)
		}
	}()

	records, err = sess.FetchAttendance()
	if err != nil {
		return nil, fmt.Errorf("fetching attendance: %w", err)
	}

	// persist before any processing: a crash after this point re-processes
	// from the buffer instead of trusting the device to still hold the log.
	// An empty dump writes no buffer: a buffer on disk is never empty.
	if len(records) > 0 {
		if err = r.store.WriteBuffer(dev.ID, records); err != nil {
			return nil, err
		}

		if dev.ClearOnFetch {
			if err = sess.ClearAttendance(); err != nil {
				return nil, fmt.Errorf("clearing device log: %w", err)
			}
		}
	}

	now := time.Now()
	if err = r.store.SaveDevice(checkpoint.DeviceCheckpoint{DeviceID: dev.ID, LastPullAt: &now}); err != nil {
		return nil, err
	}

	return records, nil
}

// deliver walks the buffer in original device order, strictly after the
// resume point, and routes every record. Returning a non-nil error means the
// buffer must be preserved.
func (r *Reconciler) deliver(ctx context.Context, dev model.Device, patterns config.Patterns, cls classifier, records []model.AttendanceRecord, resume time.Time) error {
	logger := zerolog.Ctx(ctx).With().Str("pkg", "attendance").Str("device", dev.ID).Logger()

	for _, rec := range records {
		// at or before the resume point means proven delivered (or floored)
		if !rec.Timestamp.After(resume) {
			continue
		}

		rt := cls.classify(dev, rec)
		if rt.kind == routeIgnore {
			if err := r.ledger.Append(dev.ID, audit.ChannelIgnored, rec, rt.direction, 0, "ignore-listed"); err != nil {
				return err
			}

			continue
		}

		resp, err := r.hr.CreateCheckin(ctx, hrapi.CheckinRequest{
			EmployeeFieldValue: rec.UserID,
			Timestamp:          rec.Timestamp,
			DeviceID:           dev.ID,
			Direction:          rt.direction,
			Latitude:           dev.Latitude,
			Longitude:          dev.Longitude,
		})
		if err != nil {
			return fmt.Errorf("delivering checkin for %s: %w", rec.UserID, err)
		}

		switch hrapi.Classify(patterns, resp) {
		case hrapi.KindOK:
			if err = r.ledger.Append(dev.ID, audit.ChannelSuccess, rec, rt.direction, resp.Status, resp.Body); err != nil {
				return err
			}
		case hrapi.KindDuplicate:
			// already on the HR side: handled, advances the resume point
			// exactly like a success, never touches the failed channel
			if err = r.ledger.Append(dev.ID, audit.ChannelDuplicate, rec, rt.direction, resp.Status, resp.Body); err != nil {
				return err
			}

			if err = r.ledger.Append(dev.ID, audit.ChannelSuccess, rec, rt.direction, resp.Status, "duplicate, counted as delivered"); err != nil {
				return err
			}
		case hrapi.KindAllowlisted:
			logger.Warn().
				Str("user_id", rec.UserID).
				Int("status", resp.Status).
				Msg("allowlisted delivery failure, skipping record")

			if err = r.ledger.Append(dev.ID, audit.ChannelFailed, rec, rt.direction, resp.Status, resp.Body); err != nil {
				return err
			}
		default:
			if err = r.ledger.Append(dev.ID, audit.ChannelFailed, rec, rt.direction, resp.Status, resp.Body); err != nil {
				return err
			}

			return fmt.Errorf("unclassified delivery failure for %s at %s: status %d: %s",
				rec.UserID, rec.Timestamp.Format(time.RFC3339), resp.Status, resp.Body)
		}
	}

	return nil
}
