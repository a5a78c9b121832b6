package media

import (
	"io/ioutil"
	"sync"
)

// A Stream is the immutable, fully buffered contents of an input file.
//
// The whole file is held in memory (or mapped), which bounds memory use by
// the file size. That suits short clips; unbounded inputs would need a
// windowed reader instead.
type Stream struct {
	name string
	data []byte

	closeOnce sync.Once
	unmap     func() error
}

// NewStream wraps data as a stream. The caller must not modify data
// afterwards.
func NewStream(name string, data []byte) *Stream {
	return &Stream{name: name, data: data}
}

// LoadStream reads the entire file at path into memory.
func LoadStream(path string) (*Stream, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, &IoError{Path: path, Err: err}
	}
	log.Debug("Loaded %s: %d bytes", path, len(data))
	return NewStream(path, data), nil
}

// Name returns the path the stream was loaded from.
func (s *Stream) Name() string {
	return s.name
}

// Bytes returns the stream contents. The slice must be treated as read-only;
// mapped streams fault on write.
func (s *Stream) Bytes() []byte {
	return s.data
}

// Len returns the stream length in bytes.
func (s *Stream) Len() int {
	return len(s.data)
}

// Close releases a mapped stream. Bytes must not be used afterwards.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.unmap != nil {
			err = s.unmap()
		}
		s.data = nil
	})
	return err
}
