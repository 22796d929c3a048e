package codec8

import (
	"encoding/binary"
	"fmt"

	"avl_gateway/internal/avl"
	"avl_gateway/internal/crc"
	"avl_gateway/internal/iomap"
)

// DecodeResult holds everything extracted from one data frame. Records that
// decoded cleanly enough to report are in Records; structural problems are
// annotated rather than fatal.
type DecodeResult struct {
	Codec         byte
	Records       []avl.Record
	DeclaredCount int
	TrailerCount  int
	CRC           uint32 // transmitted checksum field
	CRCValid      bool   // computed checksum matches the field
	Errors        []string
}

// DataAck builds the acknowledgement written back after a frame decodes:
// the number of accepted records as a big-endian u32.
func DataAck(count int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(count))
	return b[:]
}

// DecodeFrame decodes a complete data frame as sized by Recognize. A non-nil
// error means the frame is structurally not Codec 8/8E and the session should
// terminate; per-record damage is reported through annotations instead.
func DecodeFrame(frame []byte) (*DecodeResult, error) {
	if len(frame) < HeaderSize+MinDataSize+CRCFieldSize {
		return nil, ErrTruncatedData
	}
	if binary.BigEndian.Uint32(frame) != 0 {
		return nil, ErrBadPreamble
	}
	dataLen := int(binary.BigEndian.Uint32(frame[PreambleSize:HeaderSize]))
	if HeaderSize+dataLen+CRCFieldSize != len(frame) {
		return nil, ErrTruncatedData
	}

	codec := frame[HeaderSize]
	var ds int
	switch codec {
	case CodecID8:
		ds = 1
	case CodecID8E:
		ds = 2
	default:
		return nil, ErrUnknownCodec
	}

	region := frame[HeaderSize : len(frame)-CRCFieldSize]
	field := binary.BigEndian.Uint32(frame[len(frame)-CRCFieldSize:])

	res := &DecodeResult{
		Codec:    codec,
		CRC:      field,
		CRCValid: crc.Verify16IBM(region, field),
	}

	r := newReader(region)
	r.u8("codec id")
	declared := int(r.u8("record count"))
	res.DeclaredCount = declared

	for i := 0; i < declared; i++ {
		rec, ok := decodeRecord(r, ds)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("record %d/%d truncated", i+1, declared))
			break
		}
		res.Records = append(res.Records, rec)
	}

	if !r.short {
		trailer := int(r.u8("trailing record count"))
		res.TrailerCount = trailer
		if trailer != declared {
			res.Errors = append(res.Errors, fmt.Sprintf("record count mismatch: header %d, trailer %d", declared, trailer))
		}
		if n := r.remaining(); n > 0 {
			res.Errors = append(res.Errors, fmt.Sprintf("%d unconsumed bytes before checksum", n))
		}
	}
	if len(res.Records) != declared {
		res.Errors = append(res.Errors, fmt.Sprintf("decoded %d of %d declared records", len(res.Records), declared))
	}

	return res, nil
}

// decodeRecord reads one AVL record. ok is false when the fixed header ran
// short, in which case the record carries nothing reportable; damage inside
// the I/O groups keeps the record and annotates it instead.
func decodeRecord(r *reader, ds int) (avl.Record, bool) {
	mark := r.mark()
	rec := avl.Record{IO: make(map[uint16]avl.IoValue)}

	rec.Timestamp = int64(r.u64("timestamp"))
	rec.Priority = r.u8("priority")
	rec.Longitude = coordinate(r.u32("longitude"))
	rec.Latitude = coordinate(r.u32("latitude"))
	rec.Altitude = int16(r.u16("altitude"))
	rec.Bearing = r.u16("bearing")
	rec.Satellites = r.u8("satellites")
	rec.Speed = r.u16("speed")
	rec.EventID = r.step(ds, "event id")
	r.step(ds, "io element total")

	if r.short {
		rec.ParseErrors = r.since(mark)
		return rec, false
	}

	for _, width := range []int{1, 2, 4, 8} {
		label := fmt.Sprintf("%d-byte group", width)
		count := int(r.step(ds, label+" count"))
		for i := 0; i < count; i++ {
			if r.short {
				break
			}
			id := r.step(ds, label+" id")
			raw := r.take(width, label+" value")
			if r.short {
				break
			}
			storeElement(r, &rec, id, raw)
		}
	}

	if ds == 2 {
		count := int(r.u16("variable group count"))
		for i := 0; i < count; i++ {
			if r.short {
				break
			}
			id := r.u16("variable group id")
			length := int(r.u16("variable group length"))
			raw := r.take(length, "variable group value")
			if r.short {
				break
			}
			storeElement(r, &rec, id, raw)
		}
	}

	rec.ParseErrors = r.since(mark)
	return rec, true
}

// storeElement decodes and stores one I/O element, keeping the first value
// when a duplicate id appears in the same record.
func storeElement(r *reader, rec *avl.Record, id uint16, raw []byte) {
	if _, dup := rec.IO[id]; dup {
		r.note(fmt.Sprintf("duplicate io id %d", id))
		return
	}
	rec.IO[id] = iomap.Decode(id, raw)
}

// coordinate converts the wire form to degrees: a signed 32-bit value scaled
// by 1e7.
func coordinate(u uint32) float64 {
	return float64(int32(u)) / 1e7
}
