package model

import (
	"encoding/json"
	"fmt"
)

// ServiceError is the JSON error shape of the operational HTTP API.
type ServiceError struct {
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Code int `json:"-"`
}

func (err ServiceError) Error() string {
	data, _ := json.Marshal(&err)

	return string(data)
}

type Error string

func (err Error) Error() string {
	return string(err)
}

const (
	ErrNotFound     Error = "not found"
	ErrCycleTooSoon Error = "cycle interval not elapsed"
)

// ConnectionError means the terminal was unreachable or timed out. Fatal to
// that device's cycle only; retried next cycle since state is untouched.
type ConnectionError struct {
	DeviceID string
	Err      error
}

func (err ConnectionError) Error() string {
	return fmt.Sprintf("device %s unreachable: %v", err.DeviceID, err.Err)
}

func (err ConnectionError) Unwrap() error { return err.Err }

// ProtocolError means the terminal responded but refused the operation.
// Logged and counted, does not abort sibling operations.
type ProtocolError struct {
	DeviceID string
	Op       string
	Err      error
}

func (err ProtocolError) Error() string {
	return fmt.Sprintf("device %s: %s: %v", err.DeviceID, err.Op, err.Err)
}

func (err ProtocolError) Unwrap() error { return err.Err }

// StorageError means a checkpoint read or write failed. Fatal to the whole
// cycle: proceeding with an inconsistent checkpoint can duplicate deliveries.
type StorageError struct {
	Key string
	Err error
}

func (err StorageError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", err.Key, err.Err)
}

func (err StorageError) Unwrap() error { return err.Err }
