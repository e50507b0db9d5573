package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Retrieve when the key does not exist
var ErrNotFound = errors.New("storage: object not found")

// StorageInterface defines the contract for storage operations
type StorageInterface interface {
	Store(ctx context.Context, key string, data []byte) error
	Retrieve(ctx context.Context, key string) ([]byte, error)
	Close() error
}
