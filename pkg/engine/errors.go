package engine

import (
	"github.com/KevoDB/slicekv/pkg/engine/interfaces"
)

// Errors re-exported from interfaces so callers only need this package
var (
	ErrEngineClosed    = interfaces.ErrEngineClosed
	ErrKeyNotFound     = interfaces.ErrKeyNotFound
	ErrNotSupported    = interfaces.ErrNotSupported
	ErrInvalidArgument = interfaces.ErrInvalidArgument
	ErrStorageFailure  = interfaces.ErrStorageFailure
	ErrLocked          = interfaces.ErrLocked
)
