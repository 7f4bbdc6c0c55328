// Package health tracks the in-memory reachability of terminals across
// cycles so operators can see which devices keep failing without digging
// through ledgers.
package health

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Store interface {
	Report(deviceID string, err error)
	Subscribe(fn NotifyDeviceStateChanged)
	GetDevices() []*Device
}

type NotifyDeviceStateChanged func(d *Device)

// Device is the tracked reachability state of one terminal.
type Device struct {
	ID            string     `json:"device_id"`
	IsOnline      bool       `json:"is_online"`
	LastError     string     `json:"last_error,omitempty"`
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

type store struct {
	devices map[string]*Device
	mu      sync.RWMutex
	subs    []NotifyDeviceStateChanged
	logger  zerolog.Logger
}

func New() Store {
	return &store{
		devices: make(map[string]*Device),
		logger:  zerolog.New(os.Stdout).With().Timestamp().Str("pkg", "health").Logger(),
	}
}

func (s *store) Subscribe(fn NotifyDeviceStateChanged) {
	s.subs = append(s.subs, fn)
}

func (s *store) notify(d *Device) {
	for _, fn := range s.subs {
		fn(d)
	}
}

// Report records the outcome of one device attempt and notifies subscribers
// on online/offline transitions.
func (s *store) Report(deviceID string, err error) {
	now := time.Now()

	s.mu.Lock()
	device, ok := s.devices[deviceID]
	if !ok {
		device = &Device{ID: deviceID, IsOnline: true}
		s.devices[deviceID] = device
	}

	wasOnline := device.IsOnline
	device.LastAttemptAt = now

	if err != nil {
		device.IsOnline = false
		device.LastError = err.Error()
	} else {
		device.IsOnline = true
		device.LastError = ""
		device.LastSuccessAt = &now
	}

	changed := !ok || wasOnline != device.IsOnline
	s.mu.Unlock()

	if changed {
		if device.IsOnline {
			s.logger.Debug().Str("device", deviceID).Msg("came back online")
		} else {
			s.logger.Debug().Str("device", deviceID).Msg("went offline")
		}

		s.notify(device)
	}
}

// GetDevices gets all tracked devices.
func (s *store) GetDevices() []*Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.devices))
	for k := range s.devices {
		devices = append(devices, s.devices[k])
	}

	return devices
}
