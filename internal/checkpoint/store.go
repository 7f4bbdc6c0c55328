// Package checkpoint persists reconciliation progress as small JSON records
// with atomic-replace semantics. A crash between read and write leaves either
// the old or the new value on disk, never a torn mix.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meden/biosync/internal/model"
)

// DeviceCheckpoint is the per-device attendance progress record.
// LastPushAt is nil while a push is pending or never succeeded.
type DeviceCheckpoint struct {
	DeviceID   string     `json:"device_id"`
	LastPullAt *time.Time `json:"last_pull_at"`
	LastPushAt *time.Time `json:"last_push_at"`
}

// GlobalCheckpoint gates the multi-device cycle.
type GlobalCheckpoint struct {
	LastCycleAt           *time.Time `json:"last_cycle_at"`
	MissionAccomplishedAt *time.Time `json:"mission_accomplished_at"`
}

// TemplateCheckpoint is the global template-flow marker. Absence of LastSync
// selects full-sync mode.
type TemplateCheckpoint struct {
	LastSync  *time.Time `json:"last_sync"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Store struct {
	dir string

	// serializes writes to the same record from concurrent template workers
	mu sync.Mutex
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, model.StorageError{Key: dir, Err: err}
	}

	return &Store{dir: dir}, nil
}

func (s *Store) devicePath(id string) string {
	return filepath.Join(s.dir, "attendance_"+sanitize(id)+".json")
}

// Device reads the attendance checkpoint for a device. A missing record is
// not an error: first pull creates it.
func (s *Store) Device(id string) (DeviceCheckpoint, error) {
	cp := DeviceCheckpoint{DeviceID: id}
	err := s.readJSON(s.devicePath(id), &cp)
	if err != nil && !os.IsNotExist(err) {
		return DeviceCheckpoint{}, model.StorageError{Key: "attendance_" + id, Err: err}
	}

	return cp, nil
}

// SaveDevice keeps last_pull_at/last_push_at monotonic: an older incoming
// value never rewinds what is already recorded.
func (s *Store) SaveDevice(cp DeviceCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := DeviceCheckpoint{}
	if err := s.readJSON(s.devicePath(cp.DeviceID), &prev); err == nil {
		cp.LastPullAt = laterOf(prev.LastPullAt, cp.LastPullAt)
		cp.LastPushAt = laterOf(prev.LastPushAt, cp.LastPushAt)
	}

	if err := s.writeJSON(s.devicePath(cp.DeviceID), cp); err != nil {
		return model.StorageError{Key: "attendance_" + cp.DeviceID, Err: err}
	}

	return nil
}

func laterOf(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}

	if b == nil || b.Before(*a) {
		return a
	}

	return b
}

func (s *Store) globalPath() string {
	return filepath.Join(s.dir, "global.json")
}

func (s *Store) Global() (GlobalCheckpoint, error) {
	var cp GlobalCheckpoint
	err := s.readJSON(s.globalPath(), &cp)
	if err != nil && !os.IsNotExist(err) {
		return GlobalCheckpoint{}, model.StorageError{Key: "global", Err: err}
	}

	return cp, nil
}

func (s *Store) SaveGlobal(cp GlobalCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeJSON(s.globalPath(), cp); err != nil {
		return model.StorageError{Key: "global", Err: err}
	}

	return nil
}

func (s *Store) templateGlobalPath() string {
	return filepath.Join(s.dir, "template_global.json")
}

func (s *Store) TemplateGlobal() (TemplateCheckpoint, error) {
	var cp TemplateCheckpoint
	err := s.readJSON(s.templateGlobalPath(), &cp)
	if err != nil && !os.IsNotExist(err) {
		return TemplateCheckpoint{}, model.StorageError{Key: "template_global", Err: err}
	}

	return cp, nil
}

func (s *Store) SaveTemplateGlobal(cp TemplateCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeJSON(s.templateGlobalPath(), cp); err != nil {
		return model.StorageError{Key: "template_global", Err: err}
	}

	return nil
}

func (s *Store) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// writeJSON writes to a temp file in the same directory and renames it over
// the target, so a concurrent reader sees the old or the new record only.
func (s *Store) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("closing temp file: %w", err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("replacing record: %w", err)
	}

	return nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, strings.ToLower(id))
}
