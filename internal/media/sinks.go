//////////////////////////////////////////////////////////////////////////////
//
// Render targets
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"bufio"
	"io"
	"io/ioutil"
	"os"
)

// VideoSink is a render target for decoded pictures. Each Write carries one
// whole picture.
type VideoSink interface {
	io.Closer
	io.Writer
}

// FileSink writes decoded pictures back to back into a file, e.g. for
// playback with `ffplay -f rawvideo`.
type FileSink struct {
	file *os.File
	w    *bufio.Writer
}

// NewFileSink creates (or truncates) the file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f, w: bufio.NewWriterSize(f, 1<<20)}, nil
}

func (s *FileSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

// Close flushes buffered pictures and closes the file.
func (s *FileSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

type discardSink struct {
	io.Writer
}

func (discardSink) Close() error { return nil }

// DiscardSink drops every picture. Useful for dry runs.
func DiscardSink() VideoSink {
	return discardSink{ioutil.Discard}
}

// OpenSink opens a render target by path. "-" or "" discards.
func OpenSink(path string) (VideoSink, error) {
	if path == "" || path == "-" {
		return DiscardSink(), nil
	}
	return NewFileSink(path)
}
