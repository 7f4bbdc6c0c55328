package fingerprint

import (
	"time"

	"github.com/meden/biosync/internal/model"
)

// Action is the per-employee sync decision. Exactly one applies per cycle.
type Action int

const (
	// ActionNone: not Left, not in the changed set. Nothing to do.
	ActionNone Action = iota
	// ActionSelectiveSync: active with templates, converge the per-finger
	// delta on every device.
	ActionSelectiveSync
	// ActionClearAll: active but every template was withdrawn on the HR
	// side. Remove all ten finger slots, keep the identity.
	ActionClearAll
	// ActionClearTemplates: left past the soft threshold. Recreate the
	// device identity with zero templates so attendance history stays
	// linked.
	ActionClearTemplates
	// ActionDelete: left past the hard threshold. Remove the identity from
	// every device entirely.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionSelectiveSync:
		return "selective-sync"
	case ActionClearAll:
		return "clear-all"
	case ActionClearTemplates:
		return "clear-templates"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Classify decides the action for one employee. Pure: the same snapshot and
// the same today always yield the same action. Thresholds are day counts
// since the relieving date; hardDeleteDays of zero disables hard delete.
func Classify(emp model.Employee, inChangedSet bool, today time.Time, softClearDays, hardDeleteDays int) Action {
	if emp.Status == model.StatusLeft {
		// a Left employee without a relieving date is skipped for safety
		if emp.RelievingDate.IsZero() {
			return ActionNone
		}

		days := daysSince(emp.RelievingDate, today)
		if days < 0 {
			// not yet relieved
			return ActionNone
		}

		if hardDeleteDays > 0 && days > hardDeleteDays {
			return ActionDelete
		}

		if days >= softClearDays {
			return ActionClearTemplates
		}

		return ActionNone
	}

	if !inChangedSet {
		return ActionNone
	}

	if len(emp.Templates) == 0 {
		return ActionClearAll
	}

	return ActionSelectiveSync
}

func daysSince(from, today time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	todayDay := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.Local)

	return int(todayDay.Sub(fromDay) / (24 * time.Hour))
}
