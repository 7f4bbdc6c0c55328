package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/meden/biosync/internal/model"
)

// The undelivered-record buffer is a two-state artifact: absent, or present
// and complete. It is created with temp+rename so a crash mid-pull can never
// leave a partial dump, and deleted only after every record in it was
// processed without a non-allowlisted failure.

func (s *Store) bufferPath(deviceID string) string {
	return filepath.Join(s.dir, "buffer_"+sanitize(deviceID)+".json")
}

// WriteBuffer persists freshly pulled records before any processing.
func (s *Store) WriteBuffer(deviceID string, records []model.AttendanceRecord) error {
	if err := s.writeJSON(s.bufferPath(deviceID), records); err != nil {
		return model.StorageError{Key: "buffer_" + deviceID, Err: err}
	}

	return nil
}

// LoadBuffer returns the undelivered records for a device, preserving the
// original device retrieval order. ok is false when no buffer exists.
func (s *Store) LoadBuffer(deviceID string) (records []model.AttendanceRecord, ok bool, err error) {
	data, err := os.ReadFile(s.bufferPath(deviceID))
	if os.IsNotExist(err) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, model.StorageError{Key: "buffer_" + deviceID, Err: err}
	}

	if err = json.Unmarshal(data, &records); err != nil {
		return nil, false, model.StorageError{Key: "buffer_" + deviceID, Err: err}
	}

	return records, true, nil
}

// DeleteBuffer confirms the buffer fully processed.
func (s *Store) DeleteBuffer(deviceID string) error {
	err := os.Remove(s.bufferPath(deviceID))
	if err != nil && !os.IsNotExist(err) {
		return model.StorageError{Key: "buffer_" + deviceID, Err: err}
	}

	return nil
}

// HasBuffer reports whether an undelivered buffer exists for the device.
func (s *Store) HasBuffer(deviceID string) bool {
	_, err := os.Stat(s.bufferPath(deviceID))
	return err == nil
}
