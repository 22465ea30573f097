package weights

import (
	"errors"
	"fmt"
)

// TransferError reports a failed download: transport error, non-2xx status
// or a size mismatch. The partial file has already been removed.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string { return fmt.Sprintf("transfer %s: %v", e.URL, e.Err) }

func (e *TransferError) Unwrap() error { return e.Err }

// IsTransferError reports whether err is a TransferError.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// incompatibleFormatError rejects legacy pickle-based checkpoints.
type incompatibleFormatError struct{ ref string }

func (e incompatibleFormatError) Error() string {
	return fmt.Sprintf("%s: .ckpt checkpoints are not supported, convert the weights to .safetensors", e.ref)
}

// ErrIncompatibleFormat constructs the error returned for legacy weight files.
func ErrIncompatibleFormat(ref string) error { return incompatibleFormatError{ref: ref} }

// IsIncompatibleFormat reports whether err rejects a legacy weight format.
func IsIncompatibleFormat(err error) bool {
	var e incompatibleFormatError
	return errors.As(err, &e)
}
