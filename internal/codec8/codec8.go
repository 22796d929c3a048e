// Package codec8 implements framing and record decoding for the Teltonika
// Codec 8 and Codec 8 Extended AVL protocols.
//
// A session starts with an IMEI handshake frame (2-byte length prefix plus
// ASCII digits) and then carries data frames:
//
//	u32 preamble (always 0)
//	u32 data length
//	u8  codec id (0x08 or 0x8E)
//	u8  record count
//	    records...
//	u8  record count (repeated)
//	u32 CRC-16 (low 16 bits significant)
//
// Decoding is total: short or damaged input produces records with parse
// annotations rather than aborting the frame.
package codec8

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec identifiers carried in the frame header.
const (
	CodecID8  = 0x08 // Codec 8: one-byte event ids and element ids
	CodecID8E = 0x8E // Codec 8 Extended: two-byte ids plus variable-size group
)

// Frame layout sizes.
const (
	PreambleSize = 4 // leading zero word
	LengthSize   = 4 // data length word
	CRCFieldSize = 4 // trailing checksum field

	// HeaderSize is the byte count before the codec id.
	HeaderSize = PreambleSize + LengthSize

	// MinDataSize and MaxDataSize bound the declared data length: at least
	// a codec id plus both record counts, at most the sanity cap.
	MinDataSize = 3
	MaxDataSize = 1 << 16

	// MaxIMEISize bounds the handshake length prefix.
	MaxIMEISize = 32
)

// IMEILength is the expected identifier length in an accepted handshake.
const IMEILength = 15

// ImeiAccept is the single byte written back after a valid IMEI handshake.
const ImeiAccept byte = 0x01

// FrameKind classifies bytes buffered from a device connection.
type FrameKind int

const (
	// FrameIncomplete means the buffer cannot be classified or sized yet.
	FrameIncomplete FrameKind = iota
	// FrameIMEI is a handshake frame: u16 length plus that many ASCII bytes.
	FrameIMEI
	// FrameData is an AVL data frame.
	FrameData
)

func (k FrameKind) String() string {
	switch k {
	case FrameIMEI:
		return "imei"
	case FrameData:
		return "data"
	}
	return "incomplete"
}

// Recognizer errors. Any of these means the connection is not speaking the
// protocol and should be closed.
var (
	ErrBadPreamble   = errors.New("codec8: nonzero preamble")
	ErrLengthBounds  = errors.New("codec8: declared data length out of bounds")
	ErrUnknownCodec  = errors.New("codec8: unsupported codec id")
	ErrIMEITooLong   = errors.New("codec8: handshake length out of bounds")
	ErrBadIMEI       = errors.New("codec8: handshake is not a 15-digit IMEI")
	ErrTruncatedData = errors.New("codec8: frame shorter than declared")
)

// Recognize classifies the leading bytes of a session buffer and reports the
// total frame size once it is known.
//
// The returned size is zero while more bytes are required to size the frame;
// a non-nil error means the buffer cannot be a protocol frame and the session
// should end. A handshake frame is any buffer whose u16 prefix is non-zero;
// data frames always begin with a zero preamble, so the two shapes cannot
// collide.
func Recognize(buf []byte) (FrameKind, int, error) {
	if len(buf) < 2 {
		return FrameIncomplete, 0, nil
	}

	if l := int(binary.BigEndian.Uint16(buf)); l > 0 {
		if l > MaxIMEISize {
			return FrameIncomplete, 0, ErrIMEITooLong
		}
		return FrameIMEI, 2 + l, nil
	}

	if len(buf) < HeaderSize {
		return FrameData, 0, nil
	}
	if binary.BigEndian.Uint32(buf) != 0 {
		return FrameIncomplete, 0, ErrBadPreamble
	}
	dataLen := binary.BigEndian.Uint32(buf[PreambleSize:HeaderSize])
	if dataLen < MinDataSize || dataLen > MaxDataSize {
		return FrameIncomplete, 0, ErrLengthBounds
	}
	if len(buf) > HeaderSize {
		if c := buf[HeaderSize]; c != CodecID8 && c != CodecID8E {
			return FrameIncomplete, 0, ErrUnknownCodec
		}
	}
	return FrameData, HeaderSize + int(dataLen) + CRCFieldSize, nil
}

// ParseIMEI extracts and validates the identifier from a complete handshake
// frame (length prefix included).
func ParseIMEI(frame []byte) (string, error) {
	if len(frame) < 2 {
		return "", ErrBadIMEI
	}
	l := int(binary.BigEndian.Uint16(frame))
	if l != len(frame)-2 {
		return "", fmt.Errorf("codec8: handshake declares %d bytes, frame carries %d: %w", l, len(frame)-2, ErrBadIMEI)
	}
	imei := frame[2:]
	if len(imei) != IMEILength {
		return "", ErrBadIMEI
	}
	for _, c := range imei {
		if c < '0' || c > '9' {
			return "", ErrBadIMEI
		}
	}
	return string(imei), nil
}
