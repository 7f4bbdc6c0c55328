package model

import (
	"net"
	"strconv"
	"time"

	bstime "github.com/meden/biosync/internal/time"
)

// Device is the static configuration of one biometric terminal.
// Immutable during a run.
type Device struct {
	ID        string          `json:"device_id"`
	IP        string          `json:"ip"`
	Port      int             `json:"port"`
	Timeout   bstime.Duration `json:"timeout"`
	Direction Direction       `json:"punch_direction"`
	// ClearOnFetch deletes the terminal's internal attendance log after a
	// successful pull. Can lose data if the dump buffer is removed by hand.
	ClearOnFetch bool    `json:"clear_from_device_on_fetch"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
}

// Addr returns the dial address of the terminal.
func (d Device) Addr() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// Direction of a punch. A device either reports a fixed direction or leaves
// classification of the raw punch value to the reconciler.
type Direction string

const (
	DirectionIn      Direction = "IN"
	DirectionOut     Direction = "OUT"
	DirectionAuto    Direction = "AUTO"
	DirectionUnknown Direction = ""
)

// AttendanceRecord is a raw punch read from a terminal. Created on pull,
// consumed on push, never mutated. Identified by (device, user, timestamp).
type AttendanceRecord struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Punch     int       `json:"punch_value"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
}

// TerminalUser is a user identity as stored on a terminal.
type TerminalUser struct {
	UID      int    `json:"uid"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
	Group    string `json:"group,omitempty"`
}
