//go:build unix

package shmbuf

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/tphakala/tricam/internal/errors"
)

// region is a mapped buffer file.
type region struct {
	file *os.File
	mem  []byte
}

// lockFile takes the exclusive writer lock for path. The lock lives on a
// sidecar file so the region itself can be replaced while locked.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWriterActive
		}
		return nil, err
	}
	return f, nil
}

func unlockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// createRegion creates a new zero-filled region file of size bytes. It fails
// if path exists.
func createRegion(path string, size int64) (*region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Ftruncate(int(f.Fd()), size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	r, err := mapRegion(f, size, true)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return r, nil
}

// openRegion maps an existing region file. size is the number of bytes to
// map, or 0 for the whole file.
func openRegion(path string, size int64, writable bool) (*region, int64, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	fileSize := st.Size()
	if size == 0 || size > fileSize {
		size = fileSize
	}
	if size < headerSize {
		f.Close()
		return nil, fileSize, errShortRegion
	}
	r, err := mapRegion(f, size, writable)
	if err != nil {
		f.Close()
		return nil, fileSize, err
	}
	return r, fileSize, nil
}

func mapRegion(f *os.File, size int64, writable bool) (*region, error) {
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &region{file: f, mem: mem}, nil
}

func (r *region) close() error {
	var err error
	if r.mem != nil {
		err = unix.Munmap(r.mem)
		r.mem = nil
	}
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}
