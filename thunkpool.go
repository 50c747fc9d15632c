// Package thunkpool hands out thunks: small pieces of executable code that
// load the address of their own data pair and jump through a dispatcher slot
// shared by every thunk of the same page. Native code calls a thunk like a
// plain function pointer, and the dispatcher recovers the caller specific
// context from the scratch register the thunk loaded.
//
// Thunks are handed out a mapping at a time by an Allocator. A mapping is a
// stub region followed by a data region of the same size; block i of the
// stubs uses page i of the data. The functions of this file describe that
// geometry for the running process.
package thunkpool

import (
	"sync"

	"github.com/tetratelabs/thunkpool/internal/geometry"
)

// Geometry describes how thunks are laid out for an architecture and page
// size.
type Geometry = geometry.Layout

var nativeGeometry = sync.OnceValue(geometry.Native)

// NativeGeometry returns the Geometry of the running process. It panics if
// runtime.GOARCH has no thunk encoding.
func NativeGeometry() Geometry {
	return nativeGeometry()
}

// ThunkSize is the size in bytes of one thunk.
func ThunkSize() int {
	return nativeGeometry().ThunkSize
}

// ThunksPerBlock is the number of thunks in one stub page. The data page of
// a block holds one pointer pair per thunk and the dispatcher slot.
func ThunksPerBlock() int {
	return nativeGeometry().ThunksPerBlock
}

// BlocksPerMapping is the number of blocks returned by one call to
// Allocator.AllocateThunkMapping.
func BlocksPerMapping() int {
	return nativeGeometry().BlocksPerMapping
}

// BlockSize is the size of a stub block, which is one page.
func BlockSize() int {
	return nativeGeometry().BlockSize()
}

// DataBlockAddress returns the data block paired with the stub block
// containing stub. This holds for mappings made by the code generation and
// template strategies; see Allocator.DataBlockAddress for the fixed pool.
func DataBlockAddress(stub uintptr) uintptr {
	return nativeGeometry().DataBlockAddress(stub)
}

// StubBlockAddress is the inverse of DataBlockAddress.
func StubBlockAddress(data uintptr) uintptr {
	return nativeGeometry().StubBlockAddress(data)
}
