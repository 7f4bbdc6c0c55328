package fingerprint

import (
	"testing"
	"time"

	"github.com/meden/biosync/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func TestClassify(t *testing.T) {
	today := day(2025, time.March, 20)

	tmpl := []model.FingerTemplate{{FingerIndex: 1, Blob: "dGVtcGxhdGU="}}

	cases := []struct {
		name      string
		emp       model.Employee
		inChanged bool
		soft      int
		hard      int
		exp       Action
	}{
		{
			name:      "active changed with templates",
			emp:       model.Employee{Status: model.StatusActive, Templates: tmpl},
			inChanged: true,
			soft:      7, hard: 30,
			exp: ActionSelectiveSync,
		},
		{
			name:      "active changed without templates",
			emp:       model.Employee{Status: model.StatusActive},
			inChanged: true,
			soft:      7, hard: 30,
			exp: ActionClearAll,
		},
		{
			name: "active unchanged",
			emp:  model.Employee{Status: model.StatusActive, Templates: tmpl},
			soft: 7, hard: 30,
			exp: ActionNone,
		},
		{
			name: "left within soft window",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.March, 15)},
			soft: 7, hard: 30,
			exp: ActionNone,
		},
		{
			name: "left past soft threshold",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.March, 10)},
			soft: 7, hard: 30,
			exp: ActionClearTemplates,
		},
		{
			name: "left past hard threshold",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.February, 1)},
			soft: 7, hard: 30,
			exp: ActionDelete,
		},
		{
			name: "hard delete wins over soft clear",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2024, time.June, 1)},
			soft: 7, hard: 30,
			exp: ActionDelete,
		},
		{
			name: "zero hard threshold disables delete",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2024, time.June, 1)},
			soft: 7, hard: 0,
			exp: ActionClearTemplates,
		},
		{
			name: "left without relieving date",
			emp:  model.Employee{Status: model.StatusLeft},
			soft: 7, hard: 30,
			exp: ActionNone,
		},
		{
			name: "relieving date in the future",
			emp:  model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.April, 1)},
			soft: 7, hard: 30,
			exp: ActionNone,
		},
		{
			name:      "left ignores changed flag",
			emp:       model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.March, 1), Templates: tmpl},
			inChanged: true,
			soft:      7, hard: 30,
			exp: ActionClearTemplates,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.emp, tc.inChanged, today, tc.soft, tc.hard)
			if got != tc.exp {
				t.Fatalf("exp %v got %v", tc.exp, got)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	today := day(2025, time.March, 20)
	emp := model.Employee{Status: model.StatusLeft, RelievingDate: day(2025, time.March, 10)}

	first := Classify(emp, false, today, 7, 30)
	for i := 0; i < 50; i++ {
		if got := Classify(emp, false, today, 7, 30); got != first {
			t.Fatalf("run %d: exp %v got %v", i, first, got)
		}
	}
}
