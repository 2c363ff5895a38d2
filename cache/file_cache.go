package cache

import (
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileCache is a Cache that stores each entry in its own file, named by the hex encoding of its key.
type FileCache struct {
	dirPath string
	mux     sync.RWMutex
}

// NewFileCache returns a FileCache rooted at dir, creating the directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{dirPath: dir}, nil
}

// Dir returns the directory the cache is stored in.
func (f *FileCache) Dir() string {
	return f.dirPath
}

func (f *FileCache) path(key Key) string {
	return filepath.Join(f.dirPath, hex.EncodeToString(key[:]))
}

type fileReadCloser struct {
	*os.File
	fc *FileCache
}

func (f *fileReadCloser) Close() error {
	defer f.fc.mux.RUnlock()
	return f.File.Close()
}

// Get opens the entry for key. The cache is read-locked until content is closed.
func (f *FileCache) Get(key Key) (content io.ReadCloser, ok bool, err error) {
	f.mux.RLock()
	unlock := true
	defer func() {
		if unlock {
			f.mux.RUnlock()
		}
	}()

	file, err := os.Open(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	unlock = false
	return &fileReadCloser{File: file, fc: f}, true, nil
}

// Add writes content to a temporary file and renames it into place.
func (f *FileCache) Add(key Key, content io.Reader) (err error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	tmp, err := os.CreateTemp(f.dirPath, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, content); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

func (f *FileCache) Delete(key Key) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	return err
}
