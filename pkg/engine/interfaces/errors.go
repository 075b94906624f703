package interfaces

import "errors"

// Engine related errors. Storage and slice failures wrap one of these so
// callers can classify them with errors.Is or CodeOf.
var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")

	// ErrKeyNotFound is returned when a key is not found
	ErrKeyNotFound = errors.New("key not found")

	// ErrNotSupported is returned for operations the engine declares but does not provide
	ErrNotSupported = errors.New("operation not supported")

	// ErrInvalidArgument is returned for oversized keys or values and malformed bounds
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageFailure is returned when mapping, growing or syncing files fails
	ErrStorageFailure = errors.New("storage failure")

	// ErrLocked is returned when another process holds the engine directory
	ErrLocked = errors.New("engine directory is locked by another process")
)

// RetCode is the coarse result vocabulary of the engine boundary.
type RetCode int

const (
	Success RetCode = iota
	NotFound
	NotSupported
	InvalidArgument
	StorageFailure
)

func (c RetCode) String() string {
	switch c {
	case Success:
		return "Success"
	case NotFound:
		return "NotFound"
	case NotSupported:
		return "NotSupported"
	case InvalidArgument:
		return "InvalidArgument"
	case StorageFailure:
		return "StorageFailure"
	default:
		return "Unknown"
	}
}

// CodeOf maps an error returned by the engine to its RetCode. Any error that
// is not otherwise classified counts as a storage failure.
func CodeOf(err error) RetCode {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrKeyNotFound):
		return NotFound
	case errors.Is(err, ErrNotSupported):
		return NotSupported
	case errors.Is(err, ErrInvalidArgument):
		return InvalidArgument
	default:
		return StorageFailure
	}
}
