// Package main verifies the checksum on captured AVL data frames.
//
// Teltonika frames carry CRC-16/IBM over the region from the codec id byte
// through the trailing record count, transmitted as a 4-byte field with the
// high half zero. Devices with corrupted firmware occasionally send frames
// that fail verification; this tool shows what the device actually computed
// by comparing the embedded field against the standard algorithm and the
// common variants devices get wrong.
//
// Usage:
//
//	crccheck [hex-frame ...]
//
// With no arguments the built-in captured frames are checked.
package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"

	"avl_gateway/internal/codec8"
	"avl_gateway/internal/crc"
)

// Frames captured from live FMB-series devices, all with valid checksums.
var captured = []string{
	"0000000000000076080100000198af1f6ca80016d2955efc8c266001ac00ad100031001a0bef01f0011505c80045010101b30002000300b40071640ab5000bb6000742313d180031cd4e22ce00d8430ff544000009010406010403f10000fa04c700060d7c10016d1477020b00000002140063f40e00000000271581f70100001a6b",
	"0000000000000076080100000198b8bc06b80015ddb6b6fdfdb7090588012d140000001a0bef01f0001505c80045010101b30002000300b40071640ab5000bb60006426eb5180000cd8235ce00854310084400000900ae0600ae03f10000fa04c7009a35db1001e2b9db020b00000002140063f40e000000002715829c010000d188",
}

// CRC-16/CCITT (XModem) - poly 0x1021, init 0x0000, MSB-first. Seen on
// devices with a misconfigured checksum unit.
func crc16CCITT(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// CRC-16/MODBUS - same reflected poly as the standard algorithm but init
// 0xFFFF instead of zero.
func crc16Modbus(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

func check(raw []byte) bool {
	if len(raw) < codec8.HeaderSize+codec8.CRCFieldSize {
		fmt.Printf("  frame too short: %d bytes\n", len(raw))
		return false
	}

	region := raw[codec8.HeaderSize : len(raw)-codec8.CRCFieldSize]
	field := binary.BigEndian.Uint32(raw[len(raw)-codec8.CRCFieldSize:])
	computed := crc.Sum16IBM(region)

	fmt.Printf("  codec:            %02X, %d data bytes\n", region[0], len(region))
	fmt.Printf("  embedded field:   %08X\n", field)
	fmt.Printf("  CRC-16/IBM:       %04X\n", computed)

	if crc.Verify16IBM(region, field) {
		fmt.Printf("  OK\n")
		return true
	}

	// Show common variants so the device's mistake is identifiable.
	fmt.Printf("  MISMATCH, variants:\n")
	fmt.Printf("    CRC-16/CCITT:   %04X\n", crc16CCITT(region))
	fmt.Printf("    CRC-16/MODBUS:  %04X\n", crc16Modbus(region))
	fmt.Printf("    IBM swapped:    %04X\n", computed<<8|computed>>8)
	fmt.Printf("    IBM over frame: %04X\n", crc.Sum16IBM(raw[:len(raw)-codec8.CRCFieldSize]))
	return false
}

func main() {
	frames := os.Args[1:]
	if len(frames) == 0 {
		fmt.Println("Checking built-in captured frames")
		frames = captured
	}

	failures := 0
	for i, f := range frames {
		fmt.Printf("\nFrame %d (%d hex chars):\n", i+1, len(f))
		raw, err := hex.DecodeString(f)
		if err != nil {
			fmt.Printf("  bad hex: %v\n", err)
			failures++
			continue
		}
		if !check(raw) {
			failures++
		}
	}

	if failures > 0 {
		fmt.Printf("\n%d of %d frames failed\n", failures, len(frames))
		os.Exit(1)
	}
	fmt.Printf("\nAll %d frames verified\n", len(frames))
}
