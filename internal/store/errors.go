package store

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable marks failures of the underlying store. The gateway
// swallows it at the boundary; only direct DB callers ever see it.
var ErrStorageUnavailable = errors.New("storage unavailable")

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}
