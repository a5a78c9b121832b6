// +build linux

package media

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MapStream maps the file at path read-only into memory. Pages are loaded on
// demand, and writes through Bytes() fault.
func MapStream(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	size := fi.Size()
	if size == 0 {
		// mmap rejects zero-length mappings.
		return NewStream(path, nil), nil
	}
	if int64(int(size)) != size {
		return nil, &IoError{Path: path, Err: errors.Errorf("file too large to map: %d bytes", size)}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, &IoError{Path: path, Err: errors.Wrap(err, "mmap")}
	}
	log.Debug("Mapped %s: %d bytes", path, size)

	s := NewStream(path, data)
	s.unmap = func() error {
		return unix.Munmap(data)
	}
	return s, nil
}
