package mkfs

import (
	"errors"
	"io/fs"
	"os"
)

// Exists reports whether something exists at path. Any error but
// [fs.ErrNotExist] is returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}
