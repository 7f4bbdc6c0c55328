package attendance

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/meden/biosync/internal/audit"
	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/config"
	"github.com/meden/biosync/internal/health"
	"github.com/meden/biosync/internal/hrapi"
	"github.com/meden/biosync/internal/model"
	"github.com/meden/biosync/internal/terminal"
	bstime "github.com/meden/biosync/internal/time"
)

type fakeSession struct {
	records  []model.AttendanceRecord
	fetchErr error

	disabled bool
	enabled  bool
	cleared  bool
	closed   bool
}

func (s *fakeSession) DisableIntake() error { s.disabled = true; return nil }
func (s *fakeSession) EnableIntake() error  { s.enabled = true; return nil }

func (s *fakeSession) FetchAttendance() ([]model.AttendanceRecord, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.records, nil
}

func (s *fakeSession) ClearAttendance() error                 { s.cleared = true; return nil }
func (s *fakeSession) GetUsers() ([]model.TerminalUser, error) { return nil, nil }
func (s *fakeSession) CreateUser(model.TerminalUser) error     { return nil }
func (s *fakeSession) DeleteUser(string) error                 { return nil }
func (s *fakeSession) WriteTemplate(string, int, []byte) error { return nil }
func (s *fakeSession) DeleteTemplate(string, int) error        { return nil }
func (s *fakeSession) Disconnect() error                       { s.closed = true; return nil }

type fakeDialer struct {
	sessions map[string]*fakeSession
	dials    int
}

func (d *fakeDialer) Dial(_ context.Context, dev model.Device) (terminal.Session, error) {
	d.dials++
	sess, ok := d.sessions[dev.ID]
	if !ok {
		return nil, model.ConnectionError{DeviceID: dev.ID, Err: os.ErrDeadlineExceeded}
	}
	return sess, nil
}

type fakeHR struct {
	respond func(req hrapi.CheckinRequest) hrapi.Response
	calls   []hrapi.CheckinRequest
}

func (h *fakeHR) CreateCheckin(_ context.Context, req hrapi.CheckinRequest) (hrapi.Response, error) {
	h.calls = append(h.calls, req)
	if h.respond == nil {
		return hrapi.Response{Status: http.StatusOK, Body: `{"message":{}}`}, nil
	}
	return h.respond(req), nil
}

func (h *fakeHR) GetChangedEmployees(context.Context, time.Time) ([]model.Employee, error) {
	return nil, nil
}
func (h *fakeHR) GetLeftEmployees(context.Context) ([]model.Employee, error) { return nil, nil }
func (h *fakeHR) GetFingerprintRecords(context.Context, string) ([]model.FingerTemplate, error) {
	return nil, nil
}
func (h *fakeHR) DeleteFingerprintRecord(context.Context, string) error { return nil }
func (h *fakeHR) TestConnection(context.Context) error                  { return nil }

type fixture struct {
	rec    *Reconciler
	store  *checkpoint.Store
	ledger *audit.Ledger
	dialer *fakeDialer
	hr     *fakeHR
	cfg    config.Application
}

func newFixture(t *testing.T, devices []model.Device) *fixture {
	t.Helper()

	store, err := checkpoint.New(t.TempDir())
	require.NoError(t, err)

	ledger, err := audit.New(t.TempDir())
	require.NoError(t, err)

	cfg := config.Application{
		Devices:        devices,
		PullFrequency:  bstime.Duration(2 * time.Minute),
		IgnoredUserIDs: []string{"9000"},
		OutValues:      []int{1},
		InValues:       []int{0},
	}

	dialer := &fakeDialer{sessions: make(map[string]*fakeSession)}
	hr := &fakeHR{}

	rec := New(cfg, dialer, terminal.NewLocks(), hr, store, ledger, health.New(), zerolog.Nop())

	return &fixture{rec: rec, store: store, ledger: ledger, dialer: dialer, hr: hr, cfg: cfg}
}

func makeRecords(base time.Time, n int) []model.AttendanceRecord {
	records := make([]model.AttendanceRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, model.AttendanceRecord{
			UserID:    "101",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Punch:     0,
		})
	}
	return records
}

func TestResumeIdempotence(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := makeRecords(base, 5)
	f.dialer.sessions["m1"] = &fakeSession{records: records}

	// ledger already proves records 0..1 delivered
	require.NoError(t, f.ledger.Append("m1", audit.ChannelSuccess, records[1], model.DirectionIn, 200, "ok"))

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	// exactly records 2..4 delivered, once each
	require.Len(t, f.hr.calls, 3)
	require.True(t, f.hr.calls[0].Timestamp.Equal(records[2].Timestamp))
	require.True(t, f.hr.calls[2].Timestamp.Equal(records[4].Timestamp))
	require.False(t, f.store.HasBuffer("m1"))

	// second cycle pulls the same device log again: nothing new to deliver
	f.hr.calls = nil
	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now().Add(3*time.Minute)))
	require.Empty(t, f.hr.calls)
}

func TestUnclassifiedFailureAbortsAndPreservesBuffer(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := makeRecords(base, 10)
	f.dialer.sessions["m1"] = &fakeSession{records: records}

	failAt := records[3].Timestamp
	f.hr.respond = func(req hrapi.CheckinRequest) hrapi.Response {
		if req.Timestamp.Equal(failAt) {
			return hrapi.Response{Status: 500, Body: "Internal Server Error"}
		}
		return hrapi.Response{Status: 200, Body: "ok"}
	}

	require.Error(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	// records before the failure are proven delivered
	last, ok, err := f.ledger.LastSuccess("m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, last.Equal(records[2].Timestamp))

	// buffer intact for retry
	require.True(t, f.store.HasBuffer("m1"))

	// push checkpoint untouched
	cp, err := f.store.Device("m1")
	require.NoError(t, err)
	require.Nil(t, cp.LastPushAt)

	// next cycle retries the failed record first, without re-pulling
	f.hr.calls = nil
	f.hr.respond = nil
	dials := f.dialer.dials

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now().Add(3*time.Minute)))
	require.Equal(t, dials, f.dialer.dials)
	require.NotEmpty(t, f.hr.calls)
	require.True(t, f.hr.calls[0].Timestamp.Equal(failAt))
	require.False(t, f.store.HasBuffer("m1"))
}

func TestDuplicateTransparency(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := makeRecords(base, 3)
	f.dialer.sessions["m1"] = &fakeSession{records: records}

	dupAt := records[1].Timestamp
	f.hr.respond = func(req hrapi.CheckinRequest) hrapi.Response {
		if req.Timestamp.Equal(dupAt) {
			return hrapi.Response{Status: 417, Body: "This employee already has a log with the same timestamp"}
		}
		return hrapi.Response{Status: 200, Body: "ok"}
	}

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	// resume point advanced past the duplicate
	last, ok, err := f.ledger.LastSuccess("m1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, last.Equal(records[2].Timestamp))
	require.False(t, f.store.HasBuffer("m1"))

	// duplicate never reaches the failed channel
	dupLines := readLines(t, f.ledger, "m1", audit.ChannelDuplicate)
	require.Len(t, dupLines, 1)
	require.Empty(t, readLines(t, f.ledger, "m1", audit.ChannelFailed))
}

func TestAllowlistedFailureContinues(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := makeRecords(base, 3)
	f.dialer.sessions["m1"] = &fakeSession{records: records}

	skipAt := records[0].Timestamp
	f.hr.respond = func(req hrapi.CheckinRequest) hrapi.Response {
		if req.Timestamp.Equal(skipAt) {
			return hrapi.Response{Status: 400, Body: "No Employee found for the given employee field value"}
		}
		return hrapi.Response{Status: 200, Body: "ok"}
	}

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	// all three attempted, buffer cleared despite the allowlisted failure
	require.Len(t, f.hr.calls, 3)
	require.False(t, f.store.HasBuffer("m1"))
	require.Len(t, readLines(t, f.ledger, "m1", audit.ChannelFailed), 1)
}

func TestIgnoreListExclusion(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	records := makeRecords(base, 2)
	records[0].UserID = "9000"
	f.dialer.sessions["m1"] = &fakeSession{records: records}

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	require.Len(t, f.hr.calls, 1)
	require.Equal(t, "101", f.hr.calls[0].EmployeeFieldValue)
	require.Len(t, readLines(t, f.ledger, "m1", audit.ChannelIgnored), 1)
	require.Empty(t, readLines(t, f.ledger, "m1", audit.ChannelFailed))
}

func TestCycleGate(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}
	f := newFixture(t, []model.Device{dev})
	f.dialer.sessions["m1"] = &fakeSession{records: makeRecords(time.Now().Add(-time.Hour), 1)}

	now := time.Now()
	almost := now.Add(-f.cfg.PullFrequency.Std() + time.Second)
	require.NoError(t, f.store.SaveGlobal(checkpoint.GlobalCheckpoint{LastCycleAt: &almost}))

	err := f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), now)
	require.ErrorIs(t, err, model.ErrCycleTooSoon)
	require.Zero(t, f.dialer.dials)

	elapsed := now.Add(-f.cfg.PullFrequency.Std() - time.Second)
	require.NoError(t, f.store.SaveGlobal(checkpoint.GlobalCheckpoint{LastCycleAt: &elapsed}))

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), now))
	require.Equal(t, 1, f.dialer.dials)
}

func TestConnectionFailureIsolatedPerDevice(t *testing.T) {
	devices := []model.Device{
		{ID: "m1", Direction: model.DirectionAuto},
		{ID: "m2", Direction: model.DirectionAuto},
	}
	f := newFixture(t, devices)

	// m1 unreachable, m2 healthy
	f.dialer.sessions["m2"] = &fakeSession{records: makeRecords(time.Now().Add(-time.Hour).Truncate(time.Second), 2)}

	require.Error(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	// m2 still fully processed
	require.Len(t, f.hr.calls, 2)

	// cycle finished: mission accomplished recorded despite m1
	global, errGlobal := f.store.Global()
	require.NoError(t, errGlobal)
	require.NotNil(t, global.MissionAccomplishedAt)
}

func TestPullPersistsBufferBeforeClear(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto, ClearOnFetch: true}
	f := newFixture(t, []model.Device{dev})

	sess := &fakeSession{records: makeRecords(time.Now().Add(-time.Hour).Truncate(time.Second), 2)}
	f.dialer.sessions["m1"] = sess

	require.NoError(t, f.rec.ReconcileAll(context.Background(), config.DefaultPatterns(), time.Now()))

	require.True(t, sess.cleared)
	require.True(t, sess.disabled)
	require.True(t, sess.enabled)
	require.True(t, sess.closed)

	cp, err := f.store.Device("m1")
	require.NoError(t, err)
	require.NotNil(t, cp.LastPullAt)
	require.NotNil(t, cp.LastPushAt)
}

func TestEmptyPullLeavesNoBuffer(t *testing.T) {
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto, ClearOnFetch: true}
	f := newFixture(t, []model.Device{dev})

	sess := &fakeSession{}
	f.dialer.sessions["m1"] = sess

	records, err := f.rec.pull(context.Background(), dev)
	require.NoError(t, err)
	require.Empty(t, records)

	// an empty dump leaves no buffer behind and never clears the device log
	require.False(t, f.store.HasBuffer("m1"))
	require.False(t, sess.cleared)

	cp, err := f.store.Device("m1")
	require.NoError(t, err)
	require.NotNil(t, cp.LastPullAt)
}

func readLines(t *testing.T, l *audit.Ledger, deviceID string, ch audit.Channel) []string {
	t.Helper()

	lines, err := l.Lines(deviceID, ch)
	require.NoError(t, err)

	return lines
}
