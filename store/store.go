// Package store keeps the persisted snapshots of mkplan in a state directory.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"git.fractalqb.de/fractalqb/mkplan/mkerr"
)

const (
	lockFile   = ".lock"
	retryDelay = 50 * time.Millisecond
)

// Dir stores each location in its own file. The file name is the hex encoded
// sha256 of the location. Writes are atomic and durable.
type Dir struct {
	path string
	lock *flock.Flock
}

// Open creates the state directory if it does not exist.
func Open(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mkerr.Wrap(mkerr.IO, err, "create state dir")
	}
	return &Dir{
		path: dir,
		lock: flock.New(filepath.Join(dir, lockFile)),
	}, nil
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) file(loc string) string {
	h := sha256.Sum256([]byte(loc))
	return filepath.Join(d.path, hex.EncodeToString(h[:]))
}

// Read returns false if nothing is stored at loc.
func (d *Dir) Read(loc string) ([]byte, bool, error) {
	data, err := os.ReadFile(d.file(loc))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, false, nil
	case err != nil:
		return nil, false, mkerr.Wrap(mkerr.IO, err, "read state %s", loc)
	}
	return data, true, nil
}

func (d *Dir) Write(loc string, data []byte) error {
	if err := writeFileAtomicDurable(d.file(loc), data, 0o644); err != nil {
		return mkerr.Wrap(mkerr.IO, err, "write state %s", loc)
	}
	return nil
}

// Lock waits until the directory is locked or ctx is done.
func (d *Dir) Lock(ctx context.Context) error {
	locked, err := d.lock.TryLockContext(ctx, retryDelay)
	switch {
	case err != nil:
		return mkerr.Wrap(mkerr.IO, err, "lock %s", d.lock.Path())
	case !locked:
		return mkerr.New(mkerr.IO, "unable to lock %s", d.lock.Path())
	}
	return nil
}

// TryLock locks the directory if it is not locked by someone else.
func (d *Dir) TryLock() (bool, error) {
	locked, err := d.lock.TryLock()
	if err != nil {
		return false, mkerr.Wrap(mkerr.IO, err, "lock %s", d.lock.Path())
	}
	return locked, nil
}

func (d *Dir) Unlock() error {
	if !d.lock.Locked() {
		return nil
	}
	return mkerr.Wrap(mkerr.IO, d.lock.Unlock(), "unlock %s", d.lock.Path())
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
