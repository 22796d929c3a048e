package codec8

import (
	"encoding/binary"
	"fmt"
)

// reader is a bounds-checked cursor over a frame body. Reads past the end
// return zero values and record a single annotation; the cursor then stays
// pinned at the end so a damaged frame cannot loop forever.
type reader struct {
	data  []byte
	off   int
	short bool
	errs  []string
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

// mark returns a cursor into the annotation list; since returns everything
// recorded after the mark. Used to attribute annotations to one record.
func (r *reader) mark() int {
	return len(r.errs)
}

func (r *reader) since(mark int) []string {
	if mark >= len(r.errs) {
		return nil
	}
	out := make([]string, len(r.errs)-mark)
	copy(out, r.errs[mark:])
	return out
}

// note records an annotation without pinning the cursor.
func (r *reader) note(msg string) {
	r.errs = append(r.errs, msg)
}

func (r *reader) fail(what string, n int) {
	if !r.short {
		r.errs = append(r.errs, fmt.Sprintf("%s: need %d bytes at offset %d, have %d", what, n, r.off, r.remaining()))
		r.short = true
	}
	r.off = len(r.data)
}

// take returns n bytes, or a zeroed slice once the frame has run short.
func (r *reader) take(n int, what string) []byte {
	if r.remaining() < n {
		r.fail(what, n)
		return make([]byte, n)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8(what string) uint8 {
	return r.take(1, what)[0]
}

func (r *reader) u16(what string) uint16 {
	return binary.BigEndian.Uint16(r.take(2, what))
}

func (r *reader) u32(what string) uint32 {
	return binary.BigEndian.Uint32(r.take(4, what))
}

func (r *reader) u64(what string) uint64 {
	return binary.BigEndian.Uint64(r.take(8, what))
}

// step reads a value whose width is the codec's data step: one byte on
// Codec 8, two on Codec 8 Extended.
func (r *reader) step(ds int, what string) uint16 {
	if ds == 2 {
		return r.u16(what)
	}
	return uint16(r.u8(what))
}
