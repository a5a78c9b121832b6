package h264

import "fmt"

// A Frame is the half-open span [Start, End) of one start-code delimited
// region of a stream, including its leading start code.
type Frame struct {
	Start int
	End   int
}

// Len returns the number of bytes in the frame.
func (f Frame) Len() int {
	return f.End - f.Start
}

// Bytes returns the frame's bytes within buf, without copying.
func (f Frame) Bytes(buf []byte) []byte {
	return buf[f.Start:f.End]
}

func (f Frame) String() string {
	return fmt.Sprintf("[%d,%d)", f.Start, f.End)
}

// A Scanner walks the frames of an immutable buffer. Each call to Next
// yields the frame between the current cursor and the next boundary.
// The cursor only moves forward.
type Scanner struct {
	buf    []byte
	cursor int
	done   bool
}

// NewScanner starts a scan at offset 0.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Next returns the next terminated frame. It returns false once no further
// boundary exists; the remaining bytes are then available from Tail.
func (s *Scanner) Next() (Frame, bool) {
	if s.done {
		return Frame{}, false
	}
	next, ok := FindBoundary(s.buf, s.cursor+2, len(s.buf))
	if !ok {
		s.done = true
		return Frame{}, false
	}
	f := Frame{Start: s.cursor, End: next}
	s.cursor = next
	return f, true
}

// Cursor returns the offset of the last boundary found (0 before the first
// call to Next).
func (s *Scanner) Cursor() int {
	return s.cursor
}

// Tail returns the unterminated region [cursor, len(buf)). It is empty if the
// cursor is already at the end of the buffer.
func (s *Scanner) Tail() Frame {
	return Frame{Start: s.cursor, End: len(s.buf)}
}

// Reset moves the cursor back to offset 0, for replaying a stream from the
// beginning.
func (s *Scanner) Reset() {
	s.cursor = 0
	s.done = false
}

// Split returns every terminated frame of buf, followed by the unterminated
// tail if it is non-empty. Concatenating the returned frames reproduces buf.
func Split(buf []byte) []Frame {
	var frames []Frame
	s := NewScanner(buf)
	for {
		f, ok := s.Next()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	if tail := s.Tail(); tail.Len() > 0 {
		frames = append(frames, tail)
	}
	return frames
}
