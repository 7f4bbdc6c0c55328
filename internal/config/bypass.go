package config

import (
	"fmt"
	"time"
)

// Operation kinds gated by bypass windows.
const (
	OpAttendance = "attendance"
	OpTemplate   = "template"
)

// Window suspends one operation kind during a daily time range. From/To are
// "15:04" local wall-clock values; a window may wrap past midnight.
type Window struct {
	Operation string `json:"operation"`
	From      string `json:"from"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
}

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	from, errFrom := time.Parse("15:04", w.From)
	to, errTo := time.Parse("15:04", w.To)
	if errFrom != nil || errTo != nil {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	fromMin := from.Hour()*60 + from.Minute()
	toMin := to.Hour()*60 + to.Minute()

	if fromMin <= toMin {
		return minutes >= fromMin && minutes < toMin
	}

	// wraps midnight
	return minutes >= fromMin || minutes < toMin
}

// IsBypassed reports whether op is suspended at now, with the window reason.
// Evaluated fresh each cycle, never cached.
func (app Application) IsBypassed(op string, now time.Time) (bool, string) {
	for _, w := range app.Bypass {
		if w.Operation != op {
			continue
		}

		if w.Contains(now) {
			reason := w.Reason
			if reason == "" {
				reason = fmt.Sprintf("bypass window %s-%s", w.From, w.To)
			}

			return true, reason
		}
	}

	return false, ""
}
