package health

import (
	"errors"
	"testing"
)

func TestReportTransitions(t *testing.T) {
	s := New()

	var transitions []bool
	s.Subscribe(func(d *Device) {
		transitions = append(transitions, d.IsOnline)
	})

	s.Report("m1", nil)
	s.Report("m1", nil) // no transition, no notify
	s.Report("m1", errors.New("dial timeout"))
	s.Report("m1", nil)

	if len(transitions) != 3 {
		t.Fatalf("exp 3 notifications got %d", len(transitions))
	}

	if !transitions[0] || transitions[1] || !transitions[2] {
		t.Fatalf("exp online/offline/online got %v", transitions)
	}
}

func TestGetDevices(t *testing.T) {
	s := New()
	s.Report("m1", nil)
	s.Report("m2", errors.New("unreachable"))

	devices := s.GetDevices()
	if len(devices) != 2 {
		t.Fatalf("exp 2 devices got %d", len(devices))
	}

	for _, d := range devices {
		if d.ID == "m2" {
			if d.IsOnline || d.LastError == "" {
				t.Fatalf("exp m2 offline with error got %+v", d)
			}
		}
	}
}
