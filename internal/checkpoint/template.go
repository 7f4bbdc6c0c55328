package checkpoint

import (
	"os"
	"path/filepath"
	"time"

	"github.com/meden/biosync/internal/model"
)

// DeviceSyncState is the per-device template-flow record: which finger
// indices are known to sit on the physical device per user, plus bounded
// sync/clear history for operators.
type DeviceSyncState struct {
	DeviceID         string       `json:"device_id"`
	LastSync         *time.Time   `json:"last_sync"`
	UpdatedAt        time.Time    `json:"updated_at"`
	TotalUsersSynced int          `json:"total_users_synced"`
	Users            []UserState  `json:"users"`
	SyncHistory      []SyncEvent  `json:"sync_history"`
	ClearHistory     []ClearEvent `json:"clear_history"`
}

// UserState tracks the best-known on-device template set for one user,
// updated after every write attempt regardless of success so future deltas
// compute against truth.
type UserState struct {
	UserID           string    `json:"user_id"`
	Employee         string    `json:"employee"`
	FingerIndices    []int     `json:"finger_indices"`
	FingerprintCount int       `json:"fingerprint_count"`
	SyncedAt         time.Time `json:"synced_at"`

	// FingerDigests maps finger index to a digest of the template blob last
	// written there, so an unchanged blob is a delta no-op and a changed one
	// a rewrite.
	FingerDigests map[int]string `json:"finger_digests,omitempty"`
}

type SyncEvent struct {
	SyncTime   time.Time `json:"sync_time"`
	UsersCount int       `json:"users_count"`
	Success    bool      `json:"success"`
}

type ClearEvent struct {
	ClearTime  time.Time `json:"clear_time"`
	UserID     string    `json:"user_id"`
	Employee   string    `json:"employee"`
	Deleted    bool      `json:"deleted"`
	RelievedAt string    `json:"relieving_date,omitempty"`
}

// User returns the tracked state for a device user id.
func (st *DeviceSyncState) User(userID string) (UserState, bool) {
	for _, u := range st.Users {
		if u.UserID == userID {
			return u, true
		}
	}

	return UserState{}, false
}

// SetUser replaces or appends the tracked state for a user.
func (st *DeviceSyncState) SetUser(u UserState) {
	for i := range st.Users {
		if st.Users[i].UserID == u.UserID {
			st.Users[i] = u
			return
		}
	}

	st.Users = append(st.Users, u)
}

// RemoveUser drops a user from the tracked set.
func (st *DeviceSyncState) RemoveUser(userID string) {
	for i := range st.Users {
		if st.Users[i].UserID == userID {
			st.Users = append(st.Users[:i], st.Users[i+1:]...)
			return
		}
	}
}

func (s *Store) templateDevicePath(deviceID string) string {
	return filepath.Join(s.dir, "template_"+sanitize(deviceID)+".json")
}

// TemplateDevice reads the per-device template sync state. Missing record
// yields an empty state for that device.
func (s *Store) TemplateDevice(deviceID string) (DeviceSyncState, error) {
	st := DeviceSyncState{DeviceID: deviceID}
	err := s.readJSON(s.templateDevicePath(deviceID), &st)
	if err != nil && !os.IsNotExist(err) {
		return DeviceSyncState{}, model.StorageError{Key: "template_" + deviceID, Err: err}
	}

	st.DeviceID = deviceID

	return st, nil
}

// SaveTemplateDevice persists the state, capping history length as part of
// the write so the file never grows unbounded.
func (s *Store) SaveTemplateDevice(st DeviceSyncState, historyLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now()
	st.TotalUsersSynced = len(st.Users)

	if historyLimit > 0 {
		if n := len(st.SyncHistory); n > historyLimit {
			st.SyncHistory = st.SyncHistory[n-historyLimit:]
		}

		if n := len(st.ClearHistory); n > historyLimit {
			st.ClearHistory = st.ClearHistory[n-historyLimit:]
		}
	}

	if err := s.writeJSON(s.templateDevicePath(st.DeviceID), st); err != nil {
		return model.StorageError{Key: "template_" + st.DeviceID, Err: err}
	}

	return nil
}
