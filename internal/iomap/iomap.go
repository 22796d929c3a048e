// Package iomap classifies Teltonika I/O element ids and decodes raw wire
// values into their reportable form. Ids missing from the table decode as
// plain unsigned integers.
package iomap

import (
	"encoding/hex"
	"strings"

	"avl_gateway/internal/avl"
)

// Kind selects how an element's wire bytes are interpreted.
type Kind uint8

const (
	// Raw is an unsigned integer reading, the default.
	Raw Kind = iota
	// Scaled divides the unsigned reading by a power of ten.
	Scaled
	// Signed interprets the bytes as two's complement at their wire width.
	Signed
	// Opaque renders the bytes as an uppercase hex identifier, padded or
	// truncated to 16 characters.
	Opaque
)

type entry struct {
	kind Kind
	div  float64
}

// semantics lists every element id with non-default decoding.
var semantics = map[uint16]entry{
	// Hundredths: fuel rate and supply voltages.
	13: {Scaled, 100}, // fuel rate GPS
	66: {Scaled, 100}, // external voltage
	67: {Scaled, 100}, // battery voltage

	// Tenths: operator-band speeds, door/geofence rates, HDOP.
	181: {Scaled, 10}, // GNSS PDOP
	182: {Scaled, 10}, // GNSS HDOP
	241: {Scaled, 10}, // GSM-band speed
	242: {Scaled, 10}, // GSM-band speed (alternate)

	// Thousandths: currents and GPS fuel counters.
	6:  {Scaled, 1000}, // analog input 2
	12: {Scaled, 1000}, // fuel used GPS
	68: {Scaled, 1000}, // battery current

	// Accelerometer axes.
	17: {Signed, 0}, // axis X
	18: {Signed, 0}, // axis Y
	19: {Signed, 0}, // axis Z

	// Driver and tag identifiers.
	78:  {Opaque, 0}, // iButton
	100: {Opaque, 0}, // CAN driver tag
	207: {Opaque, 0}, // RFID
	245: {Opaque, 0}, // driver card id
	264: {Opaque, 0}, // barcode id
	403: {Opaque, 0}, // driver name segment 1
	404: {Opaque, 0}, // driver name segment 2
	405: {Opaque, 0}, // driver name segment 3
	406: {Opaque, 0}, // driver name segment 4
	407: {Opaque, 0}, // driver name segment 5
}

// lookup returns the decode kind for an element id.
func lookup(id uint16) Kind {
	return semantics[id].kind
}

// Decode converts one element's wire bytes per the id's semantics.
func Decode(id uint16, raw []byte) avl.IoValue {
	e, ok := semantics[id]
	if !ok {
		return avl.IoValue{Kind: avl.KindUint, Uint: beUint(raw)}
	}
	switch e.kind {
	case Scaled:
		return avl.IoValue{Kind: avl.KindReal, Real: float64(beUint(raw)) / e.div}
	case Signed:
		return avl.IoValue{Kind: avl.KindInt, Int: int32(beInt(raw))}
	case Opaque:
		return avl.IoValue{Kind: avl.KindOpaque, Text: opaqueID(raw)}
	}
	return avl.IoValue{Kind: avl.KindUint, Uint: beUint(raw)}
}

// beUint reads big-endian bytes as an unsigned integer, keeping the low 64
// bits of oversized variable-group values.
func beUint(raw []byte) uint64 {
	var u uint64
	for _, b := range raw {
		u = u<<8 | uint64(b)
	}
	return u
}

// beInt reads big-endian bytes as two's complement at the wire width.
func beInt(raw []byte) int64 {
	u := beUint(raw)
	if len(raw) == 0 || len(raw) >= 8 {
		return int64(u)
	}
	bits := uint(len(raw)) * 8
	if u&(1<<(bits-1)) != 0 {
		return int64(u) - int64(1)<<bits
	}
	return int64(u)
}

// opaqueID renders identifier bytes as uppercase hex, left-padded to 16
// characters and truncated to the last 16 when longer. Sentinel values
// (all ones, all zeros) come through verbatim.
func opaqueID(raw []byte) string {
	s := strings.ToUpper(hex.EncodeToString(raw))
	if len(s) < 16 {
		return strings.Repeat("0", 16-len(s)) + s
	}
	if len(s) > 16 {
		return s[len(s)-16:]
	}
	return s
}
