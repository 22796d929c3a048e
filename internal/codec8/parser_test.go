package codec8

import (
	"encoding/hex"
	"strings"
	"testing"

	"avl_gateway/internal/avl"
)

// Captured from a live FMB920: one on-movement record with a 26-element I/O
// set, negative latitude, CRC 0x1A6B.
const capturedCodec8 = "0000000000000076080100000198af1f6ca80016d2955efc8c266001ac00ad100031001a0bef01f0011505c80045010101b30002000300b40071640ab5000bb6000742313d180031cd4e22ce00d8430ff544000009010406010403f10000fa04c700060d7c10016d1477020b00000002140063f40e00000000271581f70100001a6b"

func mustFrame(t *testing.T, h string) []byte {
	t.Helper()
	raw, err := hex.DecodeString(h)
	if err != nil {
		t.Fatalf("bad fixture hex: %v", err)
	}
	return raw
}

func TestDecodeFrameCapturedCodec8(t *testing.T) {
	res, err := DecodeFrame(mustFrame(t, capturedCodec8))
	if err != nil {
		t.Fatalf("DecodeFrame returned error: %v", err)
	}

	if res.Codec != CodecID8 {
		t.Errorf("Codec = %#x, want %#x", res.Codec, CodecID8)
	}
	if !res.CRCValid {
		t.Errorf("CRCValid = false, want true (field %08X)", res.CRC)
	}
	if res.DeclaredCount != 1 || res.TrailerCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", res.DeclaredCount, res.TrailerCount)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected frame errors: %v", res.Errors)
	}
	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(res.Records))
	}

	rec := res.Records[0]
	if rec.Timestamp != 1755284729000 {
		t.Errorf("Timestamp = %d, want 1755284729000", rec.Timestamp)
	}
	if rec.Priority != avl.PriorityLow {
		t.Errorf("Priority = %d, want low", rec.Priority)
	}
	if rec.Latitude != -5.7924 {
		t.Errorf("Latitude = %v, want -5.7924", rec.Latitude)
	}
	if rec.Longitude != 38.289955 {
		t.Errorf("Longitude = %v, want 38.289955", rec.Longitude)
	}
	if rec.Altitude != 428 || rec.Bearing != 173 {
		t.Errorf("Altitude/Bearing = %d/%d, want 428/173", rec.Altitude, rec.Bearing)
	}
	if rec.Satellites != 16 || rec.Speed != 49 {
		t.Errorf("Satellites/Speed = %d/%d, want 16/49", rec.Satellites, rec.Speed)
	}
	if rec.EventID != 0 {
		t.Errorf("EventID = %d, want 0", rec.EventID)
	}
	if len(rec.IO) != 26 {
		t.Errorf("len(IO) = %d, want 26", len(rec.IO))
	}
	if len(rec.ParseErrors) != 0 {
		t.Errorf("unexpected record annotations: %v", rec.ParseErrors)
	}

	// Spot checks across the decode kinds.
	if v, _ := rec.IoUint(240); v != 1 {
		t.Errorf("io 240 = %d, want 1", v)
	}
	if v, _ := rec.IoNum(66); v != 126.05 {
		t.Errorf("io 66 = %v, want 126.05", v)
	}
	if v, _ := rec.IoNum(182); v != 0.7 {
		t.Errorf("io 182 = %v, want 0.7", v)
	}
	if v, _ := rec.IoNum(241); v != 6400.4 {
		t.Errorf("io 241 = %v, want 6400.4", v)
	}
	if v, _ := rec.IoUint(11); v != 8925504500 {
		t.Errorf("io 11 = %d, want 8925504500", v)
	}
	if v, _ := rec.IoUint(199); v != 396668 {
		t.Errorf("io 199 = %d, want 396668", v)
	}
}

// Synthetic Codec 8E frame: event id 385, five I/O elements including an
// opaque identifier in the 8-byte group and one variable-size element.
const syntheticCodec8E = "00000000000000428e010000018bcfe568000115f1dcc6ff3bb66e067d005a0b001701810004000100fa010001001500030000000100f50102030405060708000102240004deadbeef0100003fe7"

func TestDecodeFrameCodec8Extended(t *testing.T) {
	res, err := DecodeFrame(mustFrame(t, syntheticCodec8E))
	if err != nil {
		t.Fatalf("DecodeFrame returned error: %v", err)
	}

	if res.Codec != CodecID8E {
		t.Errorf("Codec = %#x, want %#x", res.Codec, CodecID8E)
	}
	if !res.CRCValid {
		t.Error("CRCValid = false, want true")
	}
	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(res.Records))
	}

	rec := res.Records[0]
	if rec.EventID != 385 {
		t.Errorf("EventID = %d, want 385", rec.EventID)
	}
	if rec.Latitude != -1.286389 || rec.Longitude != 36.817223 {
		t.Errorf("coords = %v,%v, want -1.286389,36.817223", rec.Latitude, rec.Longitude)
	}
	if v, _ := rec.IoUint(250); v != 1 {
		t.Errorf("io 250 = %d, want 1", v)
	}
	if v, _ := rec.IoUint(21); v != 3 {
		t.Errorf("io 21 = %d, want 3", v)
	}
	if v, _ := rec.IoText(245); v != "0102030405060708" {
		t.Errorf("io 245 = %q, want 0102030405060708", v)
	}
	if v, _ := rec.IoUint(548); v != 0xDEADBEEF {
		t.Errorf("io 548 = %#x, want 0xDEADBEEF", v)
	}
}

// Frame declaring three records but carrying two; the trailer count repeats
// the header's three.
const declaredMismatch = "000000000000004308030000018bcfe568000015f1dcc6ff3bb66e00640000070000000101ef010000000000018bcfe568000015f1dcc6ff3bb66e00640000070000000101ef0100000003000083af"

func TestDecodeFrameDeclaredCountMismatch(t *testing.T) {
	res, err := DecodeFrame(mustFrame(t, declaredMismatch))
	if err != nil {
		t.Fatalf("DecodeFrame returned error: %v", err)
	}

	if len(res.Records) != 2 {
		t.Fatalf("len(Records) = %d, want 2", len(res.Records))
	}
	if res.DeclaredCount != 3 {
		t.Errorf("DeclaredCount = %d, want 3", res.DeclaredCount)
	}
	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "decoded 2 of 3") {
			found = true
		}
	}
	if !found {
		t.Errorf("Errors = %v, want a declared/decoded mismatch entry", res.Errors)
	}

	// The acknowledgement reflects what was accepted, not what was declared.
	ack := DataAck(len(res.Records))
	if want := []byte{0, 0, 0, 2}; string(ack) != string(want) {
		t.Errorf("DataAck = %v, want %v", ack, want)
	}
}

// One record whose 1-byte group repeats io 21.
const duplicateID = "000000000000002508010000018bcfe568000015f1dcc6ff3bb66e00640000070000000202150515090000000100005547"

func TestDecodeFrameDuplicateID(t *testing.T) {
	res, err := DecodeFrame(mustFrame(t, duplicateID))
	if err != nil {
		t.Fatalf("DecodeFrame returned error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(res.Records))
	}

	rec := res.Records[0]
	if v, _ := rec.IoUint(21); v != 5 {
		t.Errorf("io 21 = %d, want first value 5", v)
	}
	found := false
	for _, e := range rec.ParseErrors {
		if strings.Contains(e, "duplicate io id 21") {
			found = true
		}
	}
	if !found {
		t.Errorf("ParseErrors = %v, want duplicate id annotation", rec.ParseErrors)
	}
}

// One record whose 4-byte group declares two elements but ends after the
// first value plus a dangling id.
const truncatedGroup = "000000000000002708010000018bcfe568000000000000000000000000000000000000030101010002c700060d7c1000002a82"

func TestDecodeFrameTruncatedGroup(t *testing.T) {
	res, err := DecodeFrame(mustFrame(t, truncatedGroup))
	if err != nil {
		t.Fatalf("DecodeFrame returned error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1 (damaged records still report)", len(res.Records))
	}

	rec := res.Records[0]
	if v, _ := rec.IoUint(199); v != 396668 {
		t.Errorf("io 199 = %d, want 396668 (elements before the damage survive)", v)
	}
	if rec.HasIO(16) {
		t.Error("io 16 should not decode from a truncated element")
	}
	if len(rec.ParseErrors) == 0 {
		t.Error("truncated group should annotate the record")
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", []byte{0, 0, 0}},
		{"bad preamble", mustFrame(t, "01000000000000030800000000000000")},
		{"unknown codec", mustFrame(t, "000000000000000309000000000000")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.frame); err == nil {
				t.Error("DecodeFrame should reject structurally invalid input")
			}
		})
	}
}
