package model

import "time"

type EmployeeStatus string

const (
	StatusActive EmployeeStatus = "Active"
	StatusLeft   EmployeeStatus = "Left"
)

// Employee is the HR-side view of one person, as returned by the HR API.
type Employee struct {
	ID            string         `json:"employee_id"`
	Code          string         `json:"employee"`
	Name          string         `json:"employee_name"`
	DeviceUserID  string         `json:"attendance_device_id"`
	Status        EmployeeStatus `json:"status"`
	RelievingDate time.Time      `json:"relieving_date,omitempty"`
	ModifiedAt    time.Time      `json:"modified,omitempty"`
	Password      string         `json:"password,omitempty"`
	Privilege     int            `json:"privilege,omitempty"`

	Templates []FingerTemplate `json:"fingerprints,omitempty"`
}

// FingerIndices returns the set of finger slots present in the HR system.
func (e Employee) FingerIndices() map[int]struct{} {
	set := make(map[int]struct{}, len(e.Templates))
	for _, t := range e.Templates {
		set[t.FingerIndex] = struct{}{}
	}

	return set
}

// FingerTemplate is one enrolled finger sourced from the HR system.
// Blob is the vendor template, base64 as stored by the HR side.
type FingerTemplate struct {
	RecordID    string `json:"record_id,omitempty"`
	FingerIndex int    `json:"finger_index"`
	Blob        string `json:"template_data"`
}
