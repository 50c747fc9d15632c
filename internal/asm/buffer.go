package asm

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a fixed-size window over the stub region where exactly one thunk
// is written.
//
// Unlike a growable code segment, a Buffer never reallocates: the stub region
// is already mapped and every thunk has a fixed slot. Writing past the end of
// the slot means the encoder and the geometry disagree, which panics.
type Buffer struct {
	code []byte
	size int
}

// NewBuffer returns a Buffer writing into code from its first byte.
func NewBuffer(code []byte) *Buffer {
	return &Buffer{code: code}
}

// Reset rewinds the buffer onto a new slot.
func (buf *Buffer) Reset(code []byte) {
	buf.code = code
	buf.size = 0
}

// Cap returns the size of the slot.
func (buf *Buffer) Cap() int {
	return len(buf.code)
}

// Len returns the number of bytes written so far.
func (buf *Buffer) Len() int {
	return buf.size
}

// Bytes returns the bytes written so far.
func (buf *Buffer) Bytes() []byte {
	return buf.code[:buf.size:buf.size]
}

func (buf *Buffer) append(n int) []byte {
	i := buf.size
	j := buf.size + n
	if j > len(buf.code) {
		panic(fmt.Errorf("BUG: thunk overflows its %d byte slot", len(buf.code)))
	}
	buf.size = j
	return buf.code[i:j:j]
}

func (buf *Buffer) EmitByte(b byte) {
	buf.append(1)[0] = b
}

func (buf *Buffer) Emit2Bytes(u uint16) {
	binary.LittleEndian.PutUint16(buf.append(2), u)
}

func (buf *Buffer) Emit4Bytes(u uint32) {
	binary.LittleEndian.PutUint32(buf.append(4), u)
}

func (buf *Buffer) Emit8Bytes(u uint64) {
	binary.LittleEndian.PutUint64(buf.append(8), u)
}

// PadWith repeats pad until the slot is full. The remaining space must be a
// multiple of len(pad).
func (buf *Buffer) PadWith(pad ...byte) {
	rest := len(buf.code) - buf.size
	if rest%len(pad) != 0 {
		panic(fmt.Errorf("BUG: %d bytes of padding is not a multiple of %d", rest, len(pad)))
	}
	for rest > 0 {
		copy(buf.append(len(pad)), pad)
		rest -= len(pad)
	}
}
