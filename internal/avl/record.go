// Package avl defines the decoded record model shared by the wire codec,
// the activity classifier and the reporting pipeline.
package avl

import (
	"strconv"
	"strings"
)

// Record priorities as transmitted in the AVL header byte.
const (
	PriorityLow   = 0
	PriorityHigh  = 1
	PriorityPanic = 2
)

// Opaque identifier sentinels transmitted by devices when no tag is present
// (all ones) or the reader is idle (all zeros). Kept verbatim through decode;
// interpretation happens in the classifier and payload builder.
const (
	SentinelAllOnes  = "FFFFFFFFFFFFFFFF"
	SentinelAllZeros = "0000000000000000"
)

// ValueKind discriminates the representations an I/O element can decode to.
type ValueKind uint8

const (
	// KindUint is a raw unsigned integer (the default for unknown ids).
	KindUint ValueKind = iota
	// KindReal is a scaled reading (voltage, speed, HDOP, fuel rate).
	KindReal
	// KindInt is a signed 32-bit reading (accelerometer axes).
	KindInt
	// KindOpaque is an uppercase hex identifier (iButton, RFID, driver card).
	KindOpaque
)

// IoValue is the decoded form of one I/O element. Exactly one of the value
// fields is meaningful, selected by Kind.
type IoValue struct {
	Kind ValueKind
	Uint uint64
	Int  int32
	Real float64
	Text string
}

// Uint64 returns the value as an unsigned integer, truncating scaled and
// signed readings. Opaque values return zero.
func (v IoValue) Uint64() uint64 {
	switch v.Kind {
	case KindUint:
		return v.Uint
	case KindReal:
		return uint64(v.Real)
	case KindInt:
		if v.Int < 0 {
			return 0
		}
		return uint64(v.Int)
	}
	return 0
}

// Num returns the numeric view of the value. Opaque values return zero.
func (v IoValue) Num() float64 {
	switch v.Kind {
	case KindUint:
		return float64(v.Uint)
	case KindReal:
		return v.Real
	case KindInt:
		return float64(v.Int)
	}
	return 0
}

// Format renders the value the way outbound reports carry it: integers
// without decoration, scaled readings without trailing zeros, opaque
// identifiers verbatim.
func (v IoValue) Format() string {
	switch v.Kind {
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindReal:
		return strconv.FormatFloat(v.Real, 'f', -1, 64)
	case KindInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindOpaque:
		return v.Text
	}
	return ""
}

// IsSentinel reports whether an opaque value is one of the no-tag sentinels.
func (v IoValue) IsSentinel() bool {
	if v.Kind != KindOpaque {
		return false
	}
	s := strings.ToUpper(v.Text)
	return s == SentinelAllOnes || s == SentinelAllZeros
}

// Record is one decoded AVL position report. A record is immutable once the
// classifier has stamped Activity.
type Record struct {
	Timestamp  int64   `json:"timestamp"` // milliseconds since epoch
	Priority   uint8   `json:"priority"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   int16   `json:"altitude"` // meters
	Bearing    uint16  `json:"bearing"`  // degrees from north
	Satellites uint8   `json:"satellites"`
	Speed      uint16  `json:"speed"` // km/h

	// EventID is the I/O id that triggered an on-event record, zero for
	// periodic records. Two bytes wide on Codec 8 Extended.
	EventID uint16 `json:"event_id"`

	// IO holds the decoded I/O elements keyed by element id. At most one
	// entry per id; duplicates on the wire are a parse error.
	IO map[uint16]IoValue `json:"-"`

	// Activity is the classified activity id, stamped exactly once.
	Activity int `json:"activity"`

	// ParseErrors collects decode annotations. A record with annotations is
	// still reported; the errors describe what was skipped.
	ParseErrors []string `json:"parse_errors,omitempty"`
}

// HasIO reports whether the record carries I/O element id.
func (r *Record) HasIO(id uint16) bool {
	_, ok := r.IO[id]
	return ok
}

// IoNum returns the numeric value of element id.
func (r *Record) IoNum(id uint16) (float64, bool) {
	v, ok := r.IO[id]
	if !ok {
		return 0, false
	}
	return v.Num(), true
}

// IoUint returns the unsigned integer value of element id.
func (r *Record) IoUint(id uint16) (uint64, bool) {
	v, ok := r.IO[id]
	if !ok {
		return 0, false
	}
	return v.Uint64(), true
}

// IoText returns the report string form of element id.
func (r *Record) IoText(id uint16) (string, bool) {
	v, ok := r.IO[id]
	if !ok {
		return "", false
	}
	return v.Format(), true
}

// FormatIO renders the I/O elements as report strings keyed by decimal
// id, or nil when the record carries none.
func (r *Record) FormatIO() map[string]string {
	if len(r.IO) == 0 {
		return nil
	}
	m := make(map[string]string, len(r.IO))
	for id, v := range r.IO {
		m[strconv.Itoa(int(id))] = v.Format()
	}
	return m
}

// HasFix reports whether the record carries a plausible GNSS fix: non-zero
// coordinates inside the valid range.
func (r *Record) HasFix() bool {
	if r.Latitude == 0 && r.Longitude == 0 {
		return false
	}
	return r.Latitude >= -90 && r.Latitude <= 90 && r.Longitude >= -180 && r.Longitude <= 180
}

// PriorityName returns the wire priority as text for logs and ops output.
func (r *Record) PriorityName() string {
	switch r.Priority {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityPanic:
		return "panic"
	}
	return "unknown"
}
