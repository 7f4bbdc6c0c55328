// Package memory is an in-process terminal driver, registered under the
// name "memory". Every device ID maps to its own simulated terminal with an
// exclusive session, intake toggling and an append-only punch log. It backs
// development setups and soak runs where no hardware is reachable; vendor
// protocol drivers register next to it under their own names.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/meden/biosync/internal/model"
	"github.com/meden/biosync/internal/terminal"
)

func init() {
	terminal.Register("memory", func() terminal.Dialer { return NewFleet() })
}

// fingerSlots is the finger capacity of the simulated terminal, matching
// the ten slots of the physical ones.
const fingerSlots = 10

// Fleet simulates a set of terminals keyed by device ID. Terminal state
// survives across sessions for the lifetime of the Fleet.
type Fleet struct {
	mu      sync.Mutex
	devices map[string]*device
}

func NewFleet() *Fleet {
	return &Fleet{devices: make(map[string]*device)}
}

// Dial returns a session with the simulated terminal for dev, creating an
// empty one on first contact.
func (f *Fleet) Dial(_ context.Context, dev model.Device) (terminal.Session, error) {
	return &session{dev: f.device(dev.ID)}, nil
}

// Seed appends punches to a device's internal log, as if employees had
// punched between pulls.
func (f *Fleet) Seed(deviceID string, records ...model.AttendanceRecord) {
	d := f.device(deviceID)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.log = append(d.log, records...)
}

func (f *Fleet) device(id string) *device {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.devices[id]
	if !ok {
		d = &device{
			id:        id,
			users:     make(map[string]model.TerminalUser),
			templates: make(map[string]map[int][]byte),
		}
		f.devices[id] = d
	}

	return d
}

type device struct {
	mu sync.Mutex

	id        string
	users     map[string]model.TerminalUser
	templates map[string]map[int][]byte
	log       []model.AttendanceRecord
	intakeOff bool
}

type session struct {
	dev *device
}

func (s *session) DisableIntake() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.intakeOff = true

	return nil
}

func (s *session) EnableIntake() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.intakeOff = false

	return nil
}

// FetchAttendance returns the punch log in arrival order.
func (s *session) FetchAttendance() ([]model.AttendanceRecord, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	records := make([]model.AttendanceRecord, len(s.dev.log))
	copy(records, s.dev.log)

	return records, nil
}

func (s *session) ClearAttendance() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.log = nil

	return nil
}

func (s *session) GetUsers() ([]model.TerminalUser, error) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	users := make([]model.TerminalUser, 0, len(s.dev.users))
	for _, u := range s.dev.users {
		users = append(users, u)
	}

	return users, nil
}

func (s *session) CreateUser(u model.TerminalUser) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	s.dev.users[u.UserID] = u

	return nil
}

func (s *session) DeleteUser(userID string) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	if _, ok := s.dev.users[userID]; !ok {
		return model.ProtocolError{DeviceID: s.dev.id, Op: "delete user", Err: model.ErrNotFound}
	}

	delete(s.dev.users, userID)
	delete(s.dev.templates, userID)

	return nil
}

func (s *session) WriteTemplate(userID string, fingerIndex int, blob []byte) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	if fingerIndex < 0 || fingerIndex >= fingerSlots {
		return model.ProtocolError{
			DeviceID: s.dev.id,
			Op:       "write template",
			Err:      fmt.Errorf("finger index %d out of range", fingerIndex),
		}
	}

	if _, ok := s.dev.users[userID]; !ok {
		return model.ProtocolError{DeviceID: s.dev.id, Op: "write template", Err: model.ErrNotFound}
	}

	if s.dev.templates[userID] == nil {
		s.dev.templates[userID] = make(map[int][]byte)
	}
	s.dev.templates[userID][fingerIndex] = append([]byte(nil), blob...)

	return nil
}

func (s *session) DeleteTemplate(userID string, fingerIndex int) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()

	delete(s.dev.templates[userID], fingerIndex)

	return nil
}

func (s *session) Disconnect() error { return nil }
