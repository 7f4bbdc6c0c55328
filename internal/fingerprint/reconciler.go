// Package fingerprint implements the HR-to-device template flow: classify
// every changed or left employee into one sync action and converge each
// device with selective per-finger adds and removes. Device fan-out per
// employee is parallel and bounded; the tracking write for an employee
// happens exactly once, after all of that employee's device operations
// finished.
package fingerprint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/health"
	"github.com/meden/biosync/internal/hrapi"
	"github.com/meden/biosync/internal/model"
	"github.com/meden/biosync/internal/terminal"
)

// deviceNameLimit is the display-name capacity of the terminals.
const deviceNameLimit = 24

type Reconciler struct {
	cfg    config.Application
	dialer terminal.Dialer
	locks  *terminal.Locks
	hr     hrapi.Client
	store  *checkpoint.Store
	health health.Store
	logger zerolog.Logger
}

func New(
	cfg config.Application,
	dialer terminal.Dialer,
	locks *terminal.Locks,
	hr hrapi.Client,
	store *checkpoint.Store,
	hs health.Store,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:    cfg,
		dialer: dialer,
		locks:  locks,
		hr:     hr,
		store:  store,
		health: hs,
		logger: logger.With().Str("pkg", "fingerprint").Logger(),
	}
}

// DeviceOutcome is the recorded result of one (employee, device) pair.
type DeviceOutcome struct {
	DeviceID string
	Outcome  string
	Err      error

	// what actually happened on the device, as opposed to what was planned.
	// Tracking folds these into the previous state so the next delta
	// computes against truth: a rejected write stays absent and is retried.
	written []model.FingerTemplate
	removed []int
	reset   bool
}

// EmployeeResult aggregates all device outcomes of one employee's batch.
type EmployeeResult struct {
	Employee model.Employee
	Action   Action
	Outcomes []DeviceOutcome
}

// Sync runs one template reconciliation batch. Mode selection: no previous
// checkpoint means full sync of all active employees with templates;
// otherwise only employees changed since the checkpoint. Left employees are
// processed in both modes. The checkpoint advances once, after the whole
// batch, so a crash mid-batch replays the same window idempotently.
func (r *Reconciler) Sync(ctx context.Context, now time.Time) ([]EmployeeResult, error) {
	cp, err := r.store.TemplateGlobal()
	if err != nil {
		return nil, err
	}

	var since time.Time
	if cp.LastSync != nil {
		since = *cp.LastSync
		r.logger.Info().Time("since", since).Msg("changed-since mode")
	} else {
		r.logger.Info().Msg("first run, full sync mode")
	}

	changed, err := r.hr.GetChangedEmployees(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetching changed employees: %w", err)
	}

	left, err := r.hr.GetLeftEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching left employees: %w", err)
	}

	batch := r.buildBatch(changed, left, since.IsZero(), now)

	results := make([]EmployeeResult, 0, len(batch))
	for _, item := range batch {
		if err = ctx.Err(); err != nil {
			return results, err
		}

		result := r.syncEmployee(ctx, item.emp, item.action)
		results = append(results, result)
	}

	r.appendBatchHistory(results, now)

	cp.LastSync = &now
	if err = r.store.SaveTemplateGlobal(cp); err != nil {
		return results, err
	}

	return results, nil
}

type batchItem struct {
	emp    model.Employee
	action Action
}

// buildBatch classifies the changed set union the left set. full restricts
// the active side to employees that actually carry templates.
func (r *Reconciler) buildBatch(changed, left []model.Employee, full bool, now time.Time) []batchItem {
	soft := r.cfg.Template.SoftClearDays
	hard := r.cfg.Template.HardDeleteDays

	var batch []batchItem
	seen := make(map[string]struct{})

	for _, emp := range left {
		action := Classify(emp, false, now, soft, hard)
		if action == ActionNone {
			continue
		}

		seen[emp.DeviceUserID] = struct{}{}
		batch = append(batch, batchItem{emp: emp, action: action})
	}

	for _, emp := range changed {
		if _, ok := seen[emp.DeviceUserID]; ok {
			continue
		}

		if full && len(emp.Templates) == 0 {
			continue
		}

		action := Classify(emp, true, now, soft, hard)
		if action == ActionNone {
			continue
		}

		batch = append(batch, batchItem{emp: emp, action: action})
	}

	return batch
}

// syncEmployee fans the action out across all devices, then writes the
// tracking state once. Devices that fail to connect are skipped; the partial
// result is still valid and persisted.
func (r *Reconciler) syncEmployee(ctx context.Context, emp model.Employee, action Action) EmployeeResult {
	logger := r.logger.With().Str("employee", emp.Code).Str("action", action.String()).Logger()

	outcomes := make([]DeviceOutcome, len(r.cfg.Devices))

	workers := r.cfg.Template.Workers
	if workers <= 0 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, dev := range r.cfg.Devices {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, dev model.Device) {
			defer wg.Done()
			defer func() { <-sem }()

			outcomes[i] = r.applyOnDevice(ctx, dev, emp, action)
		}(i, dev)
	}

	wg.Wait()

	// HR-side record deletion is a per-employee operation, not per-device
	if action == ActionClearTemplates && r.cfg.Template.DeleteHRRecords {
		r.deleteHRRecords(ctx, emp)
	}

	result := EmployeeResult{Employee: emp, Action: action, Outcomes: outcomes}
	r.writeTracking(result)

	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			logger.Warn().Err(outcome.Err).
				Str("device", outcome.DeviceID).
				Str("outcome", outcome.Outcome).
				Msg("device outcome")

			continue
		}

		logger.Info().
			Str("device", outcome.DeviceID).
			Str("outcome", outcome.Outcome).
			Msg("device outcome")
	}

	return result
}

// applyOnDevice executes one action against one terminal under the device
// lock. Connection failures yield the connection-failed outcome; the device
// is simply skipped this batch.
func (r *Reconciler) applyOnDevice(ctx context.Context, dev model.Device, emp model.Employee, action Action) DeviceOutcome {
	release := r.locks.Acquire(dev.ID)
	defer release()

	sess, err := r.dialer.Dial(ctx, dev)
	if err != nil {
		r.health.Report(dev.ID, err)
		return DeviceOutcome{DeviceID: dev.ID, Outcome: "connection-failed", Err: err}
	}

	r.health.Report(dev.ID, nil)
	defer func() { _ = sess.Disconnect() }()

	outcome := r.execute(sess, dev, emp, action)
	outcome.DeviceID = dev.ID

	return outcome
}

func (r *Reconciler) execute(sess terminal.Session, dev model.Device, emp model.Employee, action Action) DeviceOutcome {
	users, err := sess.GetUsers()
	if err != nil {
		return DeviceOutcome{Outcome: "error", Err: model.ProtocolError{DeviceID: dev.ID, Op: "get users", Err: err}}
	}

	var existing *model.TerminalUser
	for i := range users {
		if users[i].UserID == emp.DeviceUserID {
			existing = &users[i]
			break
		}
	}

	switch action {
	case ActionDelete:
		if existing == nil {
			return DeviceOutcome{Outcome: "user-not-found"}
		}

		if err = sess.DeleteUser(emp.DeviceUserID); err != nil {
			return DeviceOutcome{Outcome: "error", Err: model.ProtocolError{DeviceID: dev.ID, Op: "delete user", Err: err}}
		}

		return DeviceOutcome{Outcome: "deleted"}

	case ActionClearTemplates:
		if existing == nil {
			return DeviceOutcome{Outcome: "user-not-found"}
		}

		// recreate the identity with zero templates so attendance history
		// on the HR side keeps resolving the device user id
		if err = sess.DeleteUser(emp.DeviceUserID); err != nil {
			return DeviceOutcome{Outcome: "error", Err: model.ProtocolError{DeviceID: dev.ID, Op: "delete user", Err: err}}
		}

		if err = sess.CreateUser(model.TerminalUser{UserID: emp.DeviceUserID, Name: shortenName(emp.Name, deviceNameLimit)}); err != nil {
			return DeviceOutcome{Outcome: "error", Err: model.ProtocolError{DeviceID: dev.ID, Op: "recreate user", Err: err}}
		}

		return DeviceOutcome{Outcome: "cleared"}

	case ActionClearAll:
		if existing == nil {
			return DeviceOutcome{Outcome: "user-not-found"}
		}

		var cleared []int
		for idx := 0; idx < 10; idx++ {
			if errDel := sess.DeleteTemplate(emp.DeviceUserID, idx); errDel == nil {
				cleared = append(cleared, idx)
			}
		}

		return DeviceOutcome{Outcome: fmt.Sprintf("cleared:%d", len(cleared)), removed: cleared}

	case ActionSelectiveSync:
		return r.selectiveSync(sess, dev, emp, existing)
	}

	return DeviceOutcome{Outcome: "none"}
}

func (r *Reconciler) selectiveSync(sess terminal.Session, dev model.Device, emp model.Employee, existing *model.TerminalUser) DeviceOutcome {
	outcome := DeviceOutcome{reset: existing == nil}

	if existing == nil {
		if err := sess.CreateUser(model.TerminalUser{
			UserID:   emp.DeviceUserID,
			Name:     shortenName(emp.Name, deviceNameLimit),
			Password: emp.Password,
		}); err != nil {
			return DeviceOutcome{Outcome: "error", Err: model.ProtocolError{DeviceID: dev.ID, Op: "create user", Err: err}}
		}
	}

	state, err := r.store.TemplateDevice(dev.ID)
	if err != nil {
		return DeviceOutcome{Outcome: "error", Err: err}
	}

	userState, _ := state.User(emp.DeviceUserID)
	if existing == nil {
		// a missing identity means nothing is on the device regardless of
		// what the tracking file remembers
		userState.FingerIndices = nil
		userState.FingerDigests = nil
	}

	d := computeDelta(userState, emp)
	if d.empty() {
		outcome.Outcome = "synced:0,cleared:0"
		return outcome
	}

	for _, idx := range d.toRemove {
		if errDel := sess.DeleteTemplate(emp.DeviceUserID, idx); errDel == nil {
			outcome.removed = append(outcome.removed, idx)
		}
	}

	outcome.written = r.writeTemplates(sess, dev, emp, d.toWrite)
	outcome.Outcome = fmt.Sprintf("synced:%d,cleared:%d", len(outcome.written), len(outcome.removed))

	return outcome
}

// writeTemplates prefers a single batched call when the session supports it,
// and returns the templates the device actually accepted.
func (r *Reconciler) writeTemplates(sess terminal.Session, dev model.Device, emp model.Employee, templates []model.FingerTemplate) []model.FingerTemplate {
	if len(templates) == 0 {
		return nil
	}

	if batch, ok := sess.(terminal.BatchTemplateWriter); ok {
		if err := batch.WriteTemplates(emp.DeviceUserID, templates); err == nil {
			return templates
		}
	}

	var written []model.FingerTemplate
	for _, t := range templates {
		blob, err := base64.StdEncoding.DecodeString(t.Blob)
		if err != nil || len(blob) == 0 {
			r.logger.Warn().
				Str("employee", emp.Code).
				Int("finger", t.FingerIndex).
				Msg("skipping undecodable template blob")

			continue
		}

		if err = sess.WriteTemplate(emp.DeviceUserID, t.FingerIndex, blob); err != nil {
			r.logger.Warn().Err(err).
				Str("device", dev.ID).
				Str("employee", emp.Code).
				Int("finger", t.FingerIndex).
				Msg("template write rejected")

			continue
		}

		written = append(written, t)
	}

	return written
}

func (r *Reconciler) deleteHRRecords(ctx context.Context, emp model.Employee) {
	records, err := r.hr.GetFingerprintRecords(ctx, emp.ID)
	if err != nil {
		r.logger.Warn().Err(err).Str("employee", emp.Code).Msg("listing hr fingerprint records")
		return
	}

	for _, rec := range records {
		if rec.RecordID == "" {
			continue
		}

		if err = r.hr.DeleteFingerprintRecord(ctx, rec.RecordID); err != nil {
			// already gone on the HR side counts as deleted
			if errors.Is(err, model.ErrNotFound) {
				continue
			}

			r.logger.Warn().Err(err).Str("record", rec.RecordID).Msg("deleting hr fingerprint record")
		}
	}
}

// writeTracking persists the per-device sync state for one employee, once,
// after all device operations completed. Skipped devices keep their previous
// record so the next delta still computes against the last known truth.
func (r *Reconciler) writeTracking(result EmployeeResult) {
	now := time.Now()
	emp := result.Employee

	for _, outcome := range result.Outcomes {
		if outcome.Outcome == "connection-failed" || outcome.Outcome == "error" {
			continue
		}

		state, err := r.store.TemplateDevice(outcome.DeviceID)
		if err != nil {
			r.logger.Error().Err(err).Str("device", outcome.DeviceID).Msg("reading tracking state")
			continue
		}

		switch result.Action {
		case ActionDelete:
			state.RemoveUser(emp.DeviceUserID)
			state.ClearHistory = append(state.ClearHistory, checkpoint.ClearEvent{
				ClearTime:  now,
				UserID:     emp.DeviceUserID,
				Employee:   emp.Code,
				Deleted:    true,
				RelievedAt: formatDate(emp.RelievingDate),
			})
		case ActionClearTemplates:
			if outcome.Outcome != "cleared" {
				break
			}

			state.SetUser(checkpoint.UserState{
				UserID:   emp.DeviceUserID,
				Employee: emp.Code,
				SyncedAt: now,
			})
			state.ClearHistory = append(state.ClearHistory, checkpoint.ClearEvent{
				ClearTime:  now,
				UserID:     emp.DeviceUserID,
				Employee:   emp.Code,
				RelievedAt: formatDate(emp.RelievingDate),
			})
		case ActionClearAll:
			if outcome.Outcome == "user-not-found" {
				break
			}

			user, _ := state.User(emp.DeviceUserID)
			user.UserID = emp.DeviceUserID
			user.Employee = emp.Code
			user = foldOutcome(user, outcome)
			user.SyncedAt = now
			state.SetUser(user)
		case ActionSelectiveSync:
			user, _ := state.User(emp.DeviceUserID)
			user.UserID = emp.DeviceUserID
			user.Employee = emp.Code
			if outcome.reset {
				user.FingerIndices = nil
				user.FingerDigests = nil
			}

			user = foldOutcome(user, outcome)
			user.SyncedAt = now
			state.SetUser(user)
		}

		if err = r.store.SaveTemplateDevice(state, r.cfg.Template.HistoryLimit); err != nil {
			r.logger.Error().Err(err).Str("device", outcome.DeviceID).Msg("writing tracking state")
		}
	}
}

// foldOutcome applies the confirmed removals and writes of one device
// operation to the tracked state. Planned but rejected changes leave the
// state untouched, so they re-enter the delta next cycle.
func foldOutcome(user checkpoint.UserState, outcome DeviceOutcome) checkpoint.UserState {
	removed := make(map[int]struct{}, len(outcome.removed))
	for _, idx := range outcome.removed {
		removed[idx] = struct{}{}
	}

	indices := make([]int, 0, len(user.FingerIndices)+len(outcome.written))
	for _, idx := range user.FingerIndices {
		if _, gone := removed[idx]; !gone {
			indices = append(indices, idx)
		}
	}

	digests := make(map[int]string, len(user.FingerDigests)+len(outcome.written))
	for idx, dg := range user.FingerDigests {
		if _, gone := removed[idx]; !gone {
			digests[idx] = dg
		}
	}

	present := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		present[idx] = struct{}{}
	}

	for _, t := range outcome.written {
		if _, ok := present[t.FingerIndex]; !ok {
			indices = append(indices, t.FingerIndex)
			present[t.FingerIndex] = struct{}{}
		}

		digests[t.FingerIndex] = digest(t.Blob)
	}

	sort.Ints(indices)

	user.FingerIndices = indices
	user.FingerprintCount = len(indices)
	user.FingerDigests = nil
	if len(digests) > 0 {
		user.FingerDigests = digests
	}

	return user
}

// appendBatchHistory records one sync event per device touched this batch.
func (r *Reconciler) appendBatchHistory(results []EmployeeResult, now time.Time) {
	perDevice := make(map[string]int)
	for _, result := range results {
		if result.Action != ActionSelectiveSync {
			continue
		}

		for _, outcome := range result.Outcomes {
			if outcome.Err == nil {
				perDevice[outcome.DeviceID]++
			}
		}
	}

	for deviceID, count := range perDevice {
		state, err := r.store.TemplateDevice(deviceID)
		if err != nil {
			continue
		}

		ts := now
		state.LastSync = &ts
		state.SyncHistory = append(state.SyncHistory, checkpoint.SyncEvent{
			SyncTime:   now,
			UsersCount: count,
			Success:    true,
		})

		if err = r.store.SaveTemplateDevice(state, r.cfg.Template.HistoryLimit); err != nil {
			r.logger.Error().Err(err).Str("device", deviceID).Msg("writing sync history")
		}
	}
}

func formatDate(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}

	return ts.Format("2006-01-02")
}

// shortenName fits a full name into the terminal's display capacity: all
// name parts but the last collapse to initials. A single overlong word is
// truncated.
func shortenName(full string, limit int) string {
	if utf8.RuneCountInString(full) <= limit {
		return full
	}

	parts := strings.Fields(full)
	if len(parts) <= 1 {
		return string([]rune(full)[:limit])
	}

	var initials strings.Builder
	for _, part := range parts[:len(parts)-1] {
		r := []rune(part)
		initials.WriteRune(unicode.ToUpper(r[0]))
	}

	short := initials.String() + " " + parts[len(parts)-1]
	if utf8.RuneCountInString(short) > limit {
		return string([]rune(short)[:limit])
	}

	return short
}
