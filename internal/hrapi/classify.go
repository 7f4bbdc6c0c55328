package hrapi

import (
	"strings"

	"github.com/meden/biosync/internal/config"
)

// ErrorKind is the delivery outcome taxonomy for non-2xx checkin answers.
type ErrorKind int

const (
	// KindOK: delivered, advances the resume point.
	KindOK ErrorKind = iota
	// KindDuplicate: record already on the HR side. Terminal, counts as
	// handled, advances the resume point like a success.
	KindDuplicate
	// KindAllowlisted: expected permanent business-data failure. Logged and
	// skipped without aborting the device's remaining buffer.
	KindAllowlisted
	// KindUnclassified: anything else. Aborts the device's buffer so the
	// failed record is retried next cycle.
	KindUnclassified
)

func (k ErrorKind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindDuplicate:
		return "duplicate"
	case KindAllowlisted:
		return "allowlisted"
	default:
		return "unclassified"
	}
}

// Classify maps a checkin response onto the taxonomy using the configured
// substring tables. Duplicate wins over allowlist when both match.
func Classify(patterns config.Patterns, resp Response) ErrorKind {
	if resp.OK() {
		return KindOK
	}

	for _, pattern := range patterns.Duplicate {
		if pattern != "" && strings.Contains(resp.Body, pattern) {
			return KindDuplicate
		}
	}

	for _, pattern := range patterns.Allowlist {
		if pattern != "" && strings.Contains(resp.Body, pattern) {
			return KindAllowlisted
		}
	}

	return KindUnclassified
}
