package utils

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// CreateScratchFile creates a new, uniquely named file in dir. The name is
// a fresh random UUID followed by ext, so concurrent callers never collide.
func CreateScratchFile(dir, ext string) (*os.File, error) {
	for {
		path := filepath.Join(dir, uuid.NewString()+ext)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil && os.IsExist(err) {
			continue
		}
		return file, err
	}
}

// RemoveIfExists removes path. A missing file is not an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// TouchFile creates path if needed and sets its access and modification
// times to mtime.
func TouchFile(path string, mtime time.Time) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Chtimes(path, mtime, mtime)
}
