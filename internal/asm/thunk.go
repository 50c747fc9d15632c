// Package asm holds the contract between the thunk generator and the
// per-architecture encoders in its sub-packages.
package asm

// Thunk describes where one thunk lives and what it must reference.
type Thunk struct {
	// Addr is the address the first instruction executes at.
	Addr uintptr
	// Data is the address of the thunk's data pair.
	Data uintptr
	// Displacement is the distance from Data to the dispatcher slot of the
	// same data block.
	Displacement uint32
}

// ThunkEncoder emits the instructions of one thunk.
//
// The emitted code loads Thunk.Data into the architecture's scratch register
// and jumps through the pointer stored at Thunk.Data+Thunk.Displacement. It
// never references memory outside the data block.
type ThunkEncoder interface {
	// Size is the fixed size of every thunk, padding included.
	Size() int
	// PositionIndependent reports whether the encoding only depends on the
	// distance between Thunk.Addr and Thunk.Data, so the code can be copied
	// to another mapping with the same layout.
	PositionIndependent() bool
	// Encode writes exactly Size bytes into buf.
	Encode(buf *Buffer, t Thunk)
}
