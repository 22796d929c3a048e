package crc

import (
	"encoding/hex"
	"testing"
)

// Frames captured from live FMB-series devices. The CRC region runs from the
// codec id byte through the trailing record count; the last 4 bytes carry the
// checksum with the high half zero.
var frameCases = []struct {
	name  string
	frame string
	want  uint16
}{
	{
		name:  "codec 8 on-movement record",
		frame: "0000000000000076080100000198af1f6ca80016d2955efc8c266001ac00ad100031001a0bef01f0011505c80045010101b30002000300b40071640ab5000bb6000742313d180031cd4e22ce00d8430ff544000009010406010403f10000fa04c700060d7c10016d1477020b00000002140063f40e00000000271581f70100001a6b",
		want:  0x1A6B,
	},
	{
		name:  "codec 8 stationary record",
		frame: "0000000000000076080100000198b8bc06b80015ddb6b6fdfdb7090588012d140000001a0bef01f0001505c80045010101b30002000300b40071640ab5000bb60006426eb5180000cd8235ce00854310084400000900ae0600ae03f10000fa04c7009a35db1001e2b9db020b00000002140063f40e000000002715829c010000d188",
		want:  0xD188,
	},
}

func TestSum16IBMAgainstCapturedFrames(t *testing.T) {
	for _, tc := range frameCases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := hex.DecodeString(tc.frame)
			if err != nil {
				t.Fatalf("bad fixture hex: %v", err)
			}
			// CRC region: codec byte (offset 8) through end minus the 4-byte field.
			region := raw[8 : len(raw)-4]
			if got := Sum16IBM(region); got != tc.want {
				t.Errorf("Sum16IBM() = %04X, want %04X", got, tc.want)
			}
		})
	}
}

func TestVerify16IBM(t *testing.T) {
	raw, err := hex.DecodeString(frameCases[0].frame)
	if err != nil {
		t.Fatalf("bad fixture hex: %v", err)
	}
	region := raw[8 : len(raw)-4]
	field := uint32(raw[len(raw)-4])<<24 | uint32(raw[len(raw)-3])<<16 |
		uint32(raw[len(raw)-2])<<8 | uint32(raw[len(raw)-1])

	if !Verify16IBM(region, field) {
		t.Error("valid frame should verify")
	}

	// The high half of the field is padding and must not affect the result.
	if !Verify16IBM(region, field|0xABCD0000) {
		t.Error("high-half padding should be ignored")
	}

	// A corrupted region must not verify.
	corrupted := append([]byte(nil), region...)
	corrupted[10] ^= 0xFF
	if Verify16IBM(corrupted, field) {
		t.Error("corrupted frame should not verify")
	}
}

func TestCalculate16IBMRoundTrip(t *testing.T) {
	region := []byte{0x08, 0x01, 0xDE, 0xAD, 0xBE, 0xEF, 0x01}

	field := Calculate16IBM(region)
	if len(field) != 4 {
		t.Fatalf("field length = %d, want 4", len(field))
	}
	if field[0] != 0 || field[1] != 0 {
		t.Errorf("high half = %02X%02X, want zero padding", field[0], field[1])
	}

	fieldVal := uint32(field[2])<<8 | uint32(field[3])
	if !Verify16IBM(region, fieldVal) {
		t.Error("round-trip verification failed")
	}
}
