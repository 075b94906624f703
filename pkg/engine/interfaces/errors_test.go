package interfaces

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetCode
	}{
		{"nil", nil, Success},
		{"not found", ErrKeyNotFound, NotFound},
		{"wrapped not found", fmt.Errorf("slice 3: %w", ErrKeyNotFound), NotFound},
		{"not supported", ErrNotSupported, NotSupported},
		{"invalid argument", fmt.Errorf("%w: key too long", ErrInvalidArgument), InvalidArgument},
		{"storage failure", fmt.Errorf("%w: grow: %w", ErrStorageFailure, errors.New("no space")), StorageFailure},
		{"unclassified", errors.New("boom"), StorageFailure},
		{"closed engine", ErrEngineClosed, StorageFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf(%v) = %s, expected %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetCodeString(t *testing.T) {
	if NotFound.String() != "NotFound" {
		t.Errorf("Unexpected string %q", NotFound.String())
	}
	if RetCode(99).String() != "Unknown" {
		t.Errorf("Unexpected string %q", RetCode(99).String())
	}
}
