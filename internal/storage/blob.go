package storage

import (
	"errors"
	"io"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// BlobStore keeps uploaded answer files. Keys are slash separated and
// relative; the returned key is what answers reference.
type BlobStore interface {
	Put(key string, r io.Reader) (string, error)
	Get(key string) (io.ReadCloser, error)
}
