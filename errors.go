package thunkpool

import (
	"errors"

	"github.com/tetratelabs/thunkpool/internal/platform"
)

var (
	// ErrExhausted is returned once a fixed pool has handed out every
	// mapping. It is permanent for the lifetime of the Allocator.
	ErrExhausted = errors.New("thunkpool: thunk mappings exhausted")

	// ErrMapping is returned when the memory of a mapping could not be set
	// up. Anything reserved by the failed call has been released.
	ErrMapping = errors.New("thunkpool: cannot map thunks")

	// ErrUnsupported is wrapped by errors of operations the host cannot
	// perform, such as loading a template module outside Linux.
	ErrUnsupported = platform.ErrUnsupported
)
