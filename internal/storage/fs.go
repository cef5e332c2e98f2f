package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

type FSStore struct{ base string }

func NewFSStore(base string) (*FSStore, error) {
	if base == "" {
		base = "./data"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base}, nil
}

func (s *FSStore) Put(key string, r io.Reader) (string, error) {
	dst, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return "", err
	}
	return path.Clean(key), nil
}

func (s *FSStore) Get(key string) (io.ReadCloser, error) {
	src, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// resolve maps key under base, refusing anything that would escape it.
func (s *FSStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.base, filepath.FromSlash(clean)), nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AnswerFileKey builds the key for a file uploaded as an answer.
func AnswerFileKey(attemptID, questionID, uploadID, filename string) string {
	name := unsafeName.ReplaceAllString(filepath.Base(filename), "_")
	if name == "" || name == "." || name == "_" {
		name = "upload"
	}
	return path.Join("attempts", attemptID, questionID, uploadID+"-"+name)
}
