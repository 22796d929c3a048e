package iomap

import (
	"testing"

	"avl_gateway/internal/avl"
)

func TestDecodeScaled(t *testing.T) {
	tests := []struct {
		name string
		id   uint16
		raw  []byte
		want string
	}{
		{"external voltage hundredths", 66, []byte{0x31, 0x3D}, "126.05"},
		{"battery voltage hundredths", 67, []byte{0x0F, 0xF5}, "40.85"},
		{"hdop tenths", 182, []byte{0x00, 0x07}, "0.7"},
		{"gsm speed tenths", 241, []byte{0xFA, 0x04}, "6400.4"},
		{"battery current thousandths", 68, []byte{0x00, 0x00}, "0"},
		{"fuel used thousandths", 12, []byte{0x00, 0x00, 0x27, 0x10}, "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decode(tt.id, tt.raw)
			if v.Kind != avl.KindReal {
				t.Fatalf("kind = %d, want KindReal", v.Kind)
			}
			if got := v.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeSigned(t *testing.T) {
	tests := []struct {
		name string
		id   uint16
		raw  []byte
		want int32
	}{
		{"positive axis", 17, []byte{0x00, 0x63}, 99},
		{"negative axis two bytes", 18, []byte{0xFF, 0x9C}, -100},
		{"negative axis four bytes", 19, []byte{0xFF, 0xFF, 0xFF, 0x38}, -200},
		{"zero", 17, []byte{0x00, 0x00}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decode(tt.id, tt.raw)
			if v.Kind != avl.KindInt {
				t.Fatalf("kind = %d, want KindInt", v.Kind)
			}
			if v.Int != tt.want {
				t.Errorf("Int = %d, want %d", v.Int, tt.want)
			}
		})
	}
}

func TestDecodeOpaque(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{"padded to sixteen", []byte{0x01, 0x3B}, "000000000000013B"},
		{"exact width", []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}, "AABBCCDDEEFF1122"},
		{"truncated to last sixteen", []byte{0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}, "AABBCCDDEEFF1122"},
		{"all ones sentinel", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, avl.SentinelAllOnes},
		{"all zeros sentinel", []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, avl.SentinelAllZeros},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Decode(245, tt.raw)
			if v.Kind != avl.KindOpaque {
				t.Fatalf("kind = %d, want KindOpaque", v.Kind)
			}
			if v.Text != tt.want {
				t.Errorf("Text = %q, want %q", v.Text, tt.want)
			}
		})
	}

	if !Decode(78, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}).IsSentinel() {
		t.Error("all-ones identifier should report as sentinel")
	}
	if Decode(78, []byte{0x01, 0x3B}).IsSentinel() {
		t.Error("real identifier should not report as sentinel")
	}
}

func TestDecodeDefaultsToRaw(t *testing.T) {
	v := Decode(9999, []byte{0x00, 0x01, 0x00, 0x00})
	if v.Kind != avl.KindUint {
		t.Fatalf("kind = %d, want KindUint", v.Kind)
	}
	if v.Uint != 65536 {
		t.Errorf("Uint = %d, want 65536", v.Uint)
	}

	// Named raw ids stay raw.
	v = Decode(240, []byte{0x01})
	if v.Kind != avl.KindUint || v.Uint != 1 {
		t.Errorf("movement element = %+v, want raw 1", v)
	}
}

func TestLookup(t *testing.T) {
	tests := []struct {
		id   uint16
		want Kind
	}{
		{66, Scaled},
		{17, Signed},
		{245, Opaque},
		{240, Raw},
		{9999, Raw},
	}
	for _, tt := range tests {
		if got := lookup(tt.id); got != tt.want {
			t.Errorf("lookup(%d) = %d, want %d", tt.id, got, tt.want)
		}
	}
}
