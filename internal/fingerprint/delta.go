package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/meden/biosync/internal/checkpoint"
	"github.com/meden/biosync/internal/model"
)

// delta is the per-user convergence plan for one device.
type delta struct {
	toRemove []int
	toWrite  []model.FingerTemplate
}

func (d delta) empty() bool {
	return len(d.toRemove) == 0 && len(d.toWrite) == 0
}

// computeDelta compares the tracked on-device state with the employee's
// HR-side template set. Indices present on the device but gone from the HR
// side are removed; HR templates absent on the device or with a changed blob
// are written. Identical blobs are no-ops.
func computeDelta(state checkpoint.UserState, emp model.Employee) delta {
	hrSet := emp.FingerIndices()

	var d delta
	for _, idx := range state.FingerIndices {
		if _, ok := hrSet[idx]; !ok {
			d.toRemove = append(d.toRemove, idx)
		}
	}

	sort.Ints(d.toRemove)

	onDevice := make(map[int]struct{}, len(state.FingerIndices))
	for _, idx := range state.FingerIndices {
		onDevice[idx] = struct{}{}
	}

	for _, t := range emp.Templates {
		if _, ok := onDevice[t.FingerIndex]; ok {
			// no recorded digest means an older state record: presence
			// alone counts as identical then
			dg, has := state.FingerDigests[t.FingerIndex]
			if !has || dg == digest(t.Blob) {
				continue
			}
		}

		d.toWrite = append(d.toWrite, t)
	}

	sort.Slice(d.toWrite, func(i, j int) bool {
		return d.toWrite[i].FingerIndex < d.toWrite[j].FingerIndex
	})

	return d
}

func digest(blob string) string {
	sum := sha256.Sum256([]byte(blob))
	return hex.EncodeToString(sum[:8])
}
