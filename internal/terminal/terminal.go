// Package terminal defines the operation contract of a biometric terminal.
// The wire protocol lives in the vendor SDK behind the Dialer; the rest of
// the system only depends on these interfaces and the error split below:
// a ConnectionError means the device never answered and the whole device is
// skipped for the cycle, a ProtocolError means one operation was refused.
package terminal

import (
	"context"

	"github.com/meden/biosync/internal/model"
)

// Dialer opens a session with one physical terminal. Implementations must
// honor the device's configured timeout for both connect and I/O.
type Dialer interface {
	Dial(ctx context.Context, dev model.Device) (Session, error)
}

// Session is one exclusive connection to a terminal. A physical terminal
// accepts a single active session; callers serialize through Locks.
type Session interface {
	// DisableIntake pauses the terminal's check-in acceptance so reads do
	// not race writes from employees punching.
	DisableIntake() error
	EnableIntake() error

	// FetchAttendance returns the terminal's punch log in internal log
	// order. The order is part of the resume contract downstream.
	FetchAttendance() ([]model.AttendanceRecord, error)
	ClearAttendance() error

	GetUsers() ([]model.TerminalUser, error)
	CreateUser(u model.TerminalUser) error
	DeleteUser(userID string) error

	WriteTemplate(userID string, fingerIndex int, blob []byte) error
	DeleteTemplate(userID string, fingerIndex int) error

	Disconnect() error
}

// BatchTemplateWriter is implemented by sessions whose protocol can push all
// of a user's templates in one call. Callers fall back to per-finger writes.
type BatchTemplateWriter interface {
	WriteTemplates(userID string, templates []model.FingerTemplate) error
}
