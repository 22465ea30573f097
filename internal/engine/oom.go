package engine

import (
	"errors"
	"strings"
)

// ErrOutOfMemory is returned by backends that can classify accelerator
// allocation failures themselves.
var ErrOutOfMemory = errors.New("accelerator out of memory")

// OOMSignatures are substrings of runtime error messages that indicate the
// accelerator allocator is exhausted. The second entry covers allocator
// assertions raised by the CUDA caching allocator under fragmentation.
var OOMSignatures = []string{
	"CUDA out of memory",
	"INTERNAL ASSERT FAILED",
}

// IsOutOfMemory reports whether err means the accelerator ran out of memory.
//
// This is the only place where engine errors are translated into allocation
// exhaustion. A typed ErrOutOfMemory anywhere in the chain wins; otherwise the
// message of the outermost error is matched against OOMSignatures. Anything
// else is a regular failure and must not be retried.
func IsOutOfMemory(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOutOfMemory) {
		return true
	}
	msg := err.Error()
	for _, sig := range OOMSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
