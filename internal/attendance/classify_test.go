package attendance

import (
	"testing"

	"github.com/meden/biosync/internal/model"
)

func TestClassifyIgnoreList(t *testing.T) {
	cls := newClassifier([]string{"9000"}, nil, nil)
	dev := model.Device{ID: "m1", Direction: model.DirectionAuto}

	rt := cls.classify(dev, model.AttendanceRecord{UserID: "9000"})
	if rt.kind != routeIgnore {
		t.Fatalf("exp ignore got %v", rt)
	}

	rt = cls.classify(dev, model.AttendanceRecord{UserID: "9001"})
	if rt.kind != routeDeliver {
		t.Fatalf("exp deliver got %v", rt)
	}
}

func TestClassifyExplicitDirection(t *testing.T) {
	cls := newClassifier(nil, []int{1}, []int{0})

	rt := cls.classify(model.Device{Direction: model.DirectionIn}, model.AttendanceRecord{UserID: "1", Punch: 1})
	if rt.direction != model.DirectionIn {
		t.Fatalf("exp passthrough IN got %s", rt.direction)
	}

	rt = cls.classify(model.Device{Direction: model.DirectionOut}, model.AttendanceRecord{UserID: "1", Punch: 0})
	if rt.direction != model.DirectionOut {
		t.Fatalf("exp passthrough OUT got %s", rt.direction)
	}
}

func TestClassifyAutoOutWins(t *testing.T) {
	// punch code 5 in both sets: OUT checked first
	cls := newClassifier(nil, []int{1, 5}, []int{0, 5})
	dev := model.Device{Direction: model.DirectionAuto}

	cases := []struct {
		punch int
		exp   model.Direction
	}{
		{1, model.DirectionOut},
		{0, model.DirectionIn},
		{5, model.DirectionOut},
		{99, model.DirectionUnknown},
	}

	for _, tc := range cases {
		rt := cls.classify(dev, model.AttendanceRecord{UserID: "1", Punch: tc.punch})
		if rt.kind != routeDeliver || rt.direction != tc.exp {
			t.Fatalf("punch %d: exp %q got %q", tc.punch, tc.exp, rt.direction)
		}
	}
}

func TestClassifyNoDirectionConfigured(t *testing.T) {
	cls := newClassifier(nil, []int{1}, []int{0})

	rt := cls.classify(model.Device{Direction: model.DirectionUnknown}, model.AttendanceRecord{UserID: "1", Punch: 1})
	if rt.kind != routeDeliver || rt.direction != model.DirectionUnknown {
		t.Fatalf("exp unknown direction got %v", rt)
	}
}

func TestClassifyDeterminism(t *testing.T) {
	cls := newClassifier([]string{"9000"}, []int{1}, []int{0})
	dev := model.Device{Direction: model.DirectionAuto}
	rec := model.AttendanceRecord{UserID: "101", Punch: 1}

	first := cls.classify(dev, rec)
	for i := 0; i < 100; i++ {
		if got := cls.classify(dev, rec); got != first {
			t.Fatalf("exp stable classification got %v then %v", first, got)
		}
	}
}
