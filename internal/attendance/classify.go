package attendance

import (
	"github.com/meden/biosync/internal/model"
)

// routeKind is the per-record routing decision, computed before any I/O so
// the delivery loop stays free of branching.
type routeKind int

const (
	routeDeliver routeKind = iota
	routeIgnore
)

type route struct {
	kind      routeKind
	direction model.Direction
}

// classifier is a pure function over static configuration: it never touches
// the network and always produces the same route for the same record.
type classifier struct {
	ignored map[string]struct{}
	out     map[int]struct{}
	in      map[int]struct{}
}

func newClassifier(ignoredUserIDs []string, outValues, inValues []int) classifier {
	c := classifier{
		ignored: make(map[string]struct{}, len(ignoredUserIDs)),
		out:     make(map[int]struct{}, len(outValues)),
		in:      make(map[int]struct{}, len(inValues)),
	}

	for _, id := range ignoredUserIDs {
		c.ignored[id] = struct{}{}
	}

	for _, v := range outValues {
		c.out[v] = struct{}{}
	}

	for _, v := range inValues {
		c.in[v] = struct{}{}
	}

	return c
}

// classify routes one record. Ignored users never reach delivery; everyone
// else is delivered, with direction resolved from the device configuration.
// An unmatched punch code under AUTO yields an unknown direction, which is
// sent as absent rather than rejected.
func (c classifier) classify(dev model.Device, rec model.AttendanceRecord) route {
	if _, ok := c.ignored[rec.UserID]; ok {
		return route{kind: routeIgnore}
	}

	switch dev.Direction {
	case model.DirectionIn, model.DirectionOut:
		return route{kind: routeDeliver, direction: dev.Direction}
	case model.DirectionAuto:
		// OUT values checked first: devices report ambiguous codes and the
		// deployment convention resolves ties as OUT.
		if _, ok := c.out[rec.Punch]; ok {
			return route{kind: routeDeliver, direction: model.DirectionOut}
		}

		if _, ok := c.in[rec.Punch]; ok {
			return route{kind: routeDeliver, direction: model.DirectionIn}
		}

		return route{kind: routeDeliver, direction: model.DirectionUnknown}
	default:
		return route{kind: routeDeliver, direction: model.DirectionUnknown}
	}
}
