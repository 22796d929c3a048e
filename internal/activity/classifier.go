// Package activity assigns one LATRA activity id to every decoded record.
//
// Classification is a fixed chain, first match wins: event id, movement,
// ignition, overspeed, a prioritized walk of the I/O elements present,
// GPS signal loss, then a data-presence default. The walk order is fixed
// by scanOrder so the same record always yields the same activity no
// matter how the device ordered its I/O elements on the wire.
package activity

import (
	"strconv"

	"avl_gateway/internal/avl"
)

// Decision is a classification outcome: the activity id and the rule that
// produced it, for logs and audit rows.
type Decision struct {
	ID   int
	Rule string
}

// Name returns the display name of the decided activity.
func (d Decision) Name() string { return Name(d.ID) }

// Classify runs the rule chain over one record.
func Classify(rec *avl.Record) Decision {
	if rec.EventID != 0 {
		return Decision{ID: eventActivity(rec.EventID), Rule: "event"}
	}
	if rec.HasIO(240) {
		return Decision{ID: 1, Rule: "movement"}
	}
	if v, ok := rec.IO[239]; ok {
		switch v.Uint64() {
		case 1:
			return Decision{ID: 2, Rule: "ignition"}
		case 0:
			return Decision{ID: 3, Rule: "ignition"}
		default:
			return Decision{ID: 1, Rule: "ignition"}
		}
	}
	if rec.Speed > 80 {
		return Decision{ID: 4, Rule: "overspeed"}
	}
	if d, ok := scan(rec); ok {
		return d
	}
	if rec.Satellites == 0 && rec.Latitude == 0 && rec.Longitude == 0 {
		return Decision{ID: 26, Rule: "gps-loss"}
	}
	if rec.Latitude != 0 || rec.Longitude != 0 || len(rec.IO) > 0 || rec.Speed > 0 {
		return Decision{ID: 1, Rule: "default"}
	}
	return Decision{ID: 15, Rule: "no-data"}
}

// eventActivity resolves a non-zero event id. Mapped ids use the table,
// generated events 1..8 collapse to plain movement, other ids at or below
// 50 are activity ids already.
func eventActivity(id uint16) int {
	if act, ok := ioActivity[id]; ok {
		return act
	}
	if id >= 1 && id <= 8 {
		return 1
	}
	if id <= 50 {
		return int(id)
	}
	return 1
}

func scan(rec *avl.Record) (Decision, bool) {
	for _, id := range scanOrder {
		if act, ok := scanHit(rec, id); ok {
			return Decision{ID: act, Rule: "io:" + strconv.Itoa(int(id))}, true
		}
	}
	for _, id := range panicInputs {
		if v, ok := rec.IO[id]; ok && v.Uint64() == 1 {
			return Decision{ID: 8, Rule: "io:" + strconv.Itoa(int(id))}, true
		}
	}
	for _, id := range scanRest {
		if act, ok := scanHit(rec, id); ok {
			return Decision{ID: act, Rule: "io:" + strconv.Itoa(int(id))}, true
		}
	}
	return Decision{}, false
}

// scanHit decides whether one present I/O element classifies the record.
// A handful of ids carry value conditions; the rest classify on presence
// through the table.
func scanHit(rec *avl.Record, id uint16) (int, bool) {
	v, ok := rec.IO[id]
	if !ok {
		return 0, false
	}
	switch id {
	case 252:
		// External power status, 1 = disconnected. At speed this is a
		// tamper, stationary it is a plain power loss.
		if v.Uint64() == 1 {
			return powerLossActivity(rec), true
		}
		return 0, false
	case 253:
		// Green driving event type.
		switch v.Uint64() {
		case 1:
			return 7, true
		case 2:
			return 5, true
		case 3:
			return 6, true
		}
		return 0, false
	case 66:
		// External voltage sagging below 9V means the supply is cut.
		if v.Num() < 9.0 {
			return powerLossActivity(rec), true
		}
		return 0, false
	case 250:
		// Trip state, 1 = start, 0 = stop.
		switch v.Uint64() {
		case 1:
			return 18, true
		case 0:
			return 19, true
		}
		return 0, false
	case 78, 245:
		// Driver tag reads. All-ones and all-zeros are reader error
		// patterns, not scans.
		if v.IsSentinel() {
			return 17, true
		}
		return 24, true
	}
	act, ok := ioActivity[id]
	return act, ok
}

// powerLossActivity separates a power cut while moving, which reads as
// tampering, from one while parked.
func powerLossActivity(rec *avl.Record) int {
	if rec.Speed >= 20 {
		return 14
	}
	return 10
}
