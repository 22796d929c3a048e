package avl

import "testing"

func TestIoValue_Format(t *testing.T) {
	tests := []struct {
		name  string
		value IoValue
		want  string
	}{
		{"unsigned", IoValue{Kind: KindUint, Uint: 42}, "42"},
		{"unsigned zero", IoValue{Kind: KindUint}, "0"},
		{"scaled", IoValue{Kind: KindReal, Real: 12.5}, "12.5"},
		{"scaled whole", IoValue{Kind: KindReal, Real: 12}, "12"},
		{"signed negative", IoValue{Kind: KindInt, Int: -15}, "-15"},
		{"opaque", IoValue{Kind: KindOpaque, Text: "00000A1B2C3D4E5F"}, "00000A1B2C3D4E5F"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.Format(); got != tt.want {
				t.Errorf("Format() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIoValue_IsSentinel(t *testing.T) {
	tests := []struct {
		name  string
		value IoValue
		want  bool
	}{
		{"all ones", IoValue{Kind: KindOpaque, Text: SentinelAllOnes}, true},
		{"all zeros", IoValue{Kind: KindOpaque, Text: SentinelAllZeros}, true},
		{"lowercase ones", IoValue{Kind: KindOpaque, Text: "ffffffffffffffff"}, true},
		{"real identifier", IoValue{Kind: KindOpaque, Text: "00000A1B2C3D4E5F"}, false},
		{"not opaque", IoValue{Kind: KindUint, Uint: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.IsSentinel(); got != tt.want {
				t.Errorf("IsSentinel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIoValue_NumericViews(t *testing.T) {
	tests := []struct {
		name     string
		value    IoValue
		wantNum  float64
		wantUint uint64
	}{
		{"unsigned", IoValue{Kind: KindUint, Uint: 7}, 7, 7},
		{"scaled truncates", IoValue{Kind: KindReal, Real: 3.9}, 3.9, 3},
		{"signed", IoValue{Kind: KindInt, Int: 5}, 5, 5},
		{"signed negative clamps", IoValue{Kind: KindInt, Int: -5}, -5, 0},
		{"opaque", IoValue{Kind: KindOpaque, Text: "FF"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.Num(); got != tt.wantNum {
				t.Errorf("Num() = %v, want %v", got, tt.wantNum)
			}
			if got := tt.value.Uint64(); got != tt.wantUint {
				t.Errorf("Uint64() = %v, want %v", got, tt.wantUint)
			}
		})
	}
}

func TestRecord_HasFix(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"dar es salaam", -6.7735, 39.2217, true},
		{"no fix", 0, 0, false},
		{"equator crossing", 0, 39.2217, true},
		{"latitude out of range", 91, 39, false},
		{"longitude out of range", -6.7, -181, false},
		{"southern hemisphere", -33.8688, 151.2093, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Record{Latitude: tt.lat, Longitude: tt.lon}
			if got := rec.HasFix(); got != tt.want {
				t.Errorf("HasFix() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecord_IOHelpers(t *testing.T) {
	rec := Record{
		IO: map[uint16]IoValue{
			239: {Kind: KindUint, Uint: 1},
			66:  {Kind: KindReal, Real: 12.8},
			78:  {Kind: KindOpaque, Text: "00000A1B2C3D4E5F"},
		},
	}

	if !rec.HasIO(239) {
		t.Error("HasIO(239) = false, want true")
	}
	if rec.HasIO(240) {
		t.Error("HasIO(240) = true, want false")
	}

	if v, ok := rec.IoNum(66); !ok || v != 12.8 {
		t.Errorf("IoNum(66) = %v, %v, want 12.8, true", v, ok)
	}
	if v, ok := rec.IoUint(239); !ok || v != 1 {
		t.Errorf("IoUint(239) = %v, %v, want 1, true", v, ok)
	}
	if s, ok := rec.IoText(78); !ok || s != "00000A1B2C3D4E5F" {
		t.Errorf("IoText(78) = %q, %v", s, ok)
	}

	if _, ok := rec.IoNum(999); ok {
		t.Error("IoNum(999) reported a value for a missing element")
	}
}

func TestRecord_FormatIO(t *testing.T) {
	rec := Record{
		IO: map[uint16]IoValue{
			239: {Kind: KindUint, Uint: 1},
			66:  {Kind: KindReal, Real: 12.8},
		},
	}

	m := rec.FormatIO()
	if len(m) != 2 {
		t.Fatalf("FormatIO() returned %d entries, want 2", len(m))
	}
	if m["239"] != "1" {
		t.Errorf(`m["239"] = %q, want "1"`, m["239"])
	}
	if m["66"] != "12.8" {
		t.Errorf(`m["66"] = %q, want "12.8"`, m["66"])
	}

	empty := Record{}
	if empty.FormatIO() != nil {
		t.Error("FormatIO() on a record without elements should be nil")
	}
}

func TestRecord_PriorityName(t *testing.T) {
	tests := []struct {
		priority uint8
		want     string
	}{
		{PriorityLow, "low"},
		{PriorityHigh, "high"},
		{PriorityPanic, "panic"},
		{7, "unknown"},
	}

	for _, tt := range tests {
		rec := Record{Priority: tt.priority}
		if got := rec.PriorityName(); got != tt.want {
			t.Errorf("PriorityName() with priority %d = %q, want %q", tt.priority, got, tt.want)
		}
	}
}
