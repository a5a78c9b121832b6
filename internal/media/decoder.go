//////////////////////////////////////////////////////////////////////////////
//
// Decoder session interface
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"io"
	"sync"
	"time"
)

// MIME type for H.264 elementary streams.
const MimeTypeAVC = "video/avc"

// BufferIndex identifies one buffer in a decoder's input or output pool. It is
// valid from acquisition until the buffer is queued (input) or released
// (output), and must not be used afterwards.
type BufferIndex int

// BufferFlag annotates input and output buffers.
type BufferFlag uint32

const (
	// FlagEndOfStream on an input buffer asks the decoder to flush. On an
	// output buffer it marks the last output.
	FlagEndOfStream BufferFlag = 1 << iota
)

// BufferInfo describes one decoded output buffer.
type BufferInfo struct {
	Offset           int
	Size             int
	PresentationTime time.Duration
	Flags            BufferFlag
}

// Decoder is a decoding session that exchanges buffers with its caller.
//
// The caller acquires an input buffer, writes one access unit into the
// returned slice, and queues it. Decoded pictures are collected by polling
// for output buffers, each of which must be released, optionally rendering it
// to the target given to Configure.
//
// Acquire and poll calls return ErrTryAgain if nothing became available
// within the timeout. Any other error is a fault.
//
// A Decoder is not safe for concurrent use. Exactly one feed loop may drive
// it at a time.
type Decoder interface {
	io.Closer

	// Configure prepares the session. It is called once, before Start.
	// Rendered pictures are written to target; a nil interface value
	// discards them.
	Configure(mime string, width, height int, target io.Writer) error

	// Start begins decoding.
	Start() error

	// AcquireInputBuffer returns a free input buffer and its writable
	// backing slice. The slice length is the buffer capacity.
	AcquireInputBuffer(timeout time.Duration) (BufferIndex, []byte, error)

	// QueueInputBuffer submits bytes [offset, offset+size) of the acquired
	// buffer. A size of zero without flags returns the buffer unused.
	QueueInputBuffer(index BufferIndex, offset, size int, flags BufferFlag) error

	// PollOutputBuffer returns the next decoded output buffer in decode
	// order.
	PollOutputBuffer(timeout time.Duration) (BufferIndex, BufferInfo, error)

	// ReleaseOutputBuffer returns an output buffer to the decoder, writing
	// it to the render target first if render is true.
	ReleaseOutputBuffer(index BufferIndex, render bool) error
}

// Decoders driven by a running feed loop. A Decoder must be a comparable type
// (in practice, a pointer) to be claimed.
var claims = struct {
	sync.Mutex
	owned map[Decoder]bool
}{owned: make(map[Decoder]bool)}

// claim marks d as exclusively driven by the caller.
func claim(d Decoder) error {
	claims.Lock()
	defer claims.Unlock()

	if claims.owned[d] {
		return ErrDecoderBusy
	}
	claims.owned[d] = true
	return nil
}

func unclaim(d Decoder) {
	claims.Lock()
	delete(claims.owned, d)
	claims.Unlock()
}
