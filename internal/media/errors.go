//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import (
	"errors"
	"fmt"
)

var (
	// ErrIo matches any *IoError.
	ErrIo = errors.New("stream unreadable")

	// ErrScanExhausted is the normal end of a stream: no further start code.
	ErrScanExhausted = errors.New("no further start code")

	// ErrStopped is reported when a feed loop ends on a stop request.
	ErrStopped = errors.New("stopped")

	// ErrDecoderFault matches any *DecoderFault.
	ErrDecoderFault = errors.New("decoder fault")

	// ErrTryAgain is returned by Decoder when no buffer became available
	// within the timeout. It is not a fault.
	ErrTryAgain = errors.New("try again later")

	// ErrFrameTooLarge means a frame does not fit into an input buffer.
	ErrFrameTooLarge = errors.New("frame larger than input buffer")

	// ErrDecoderBusy means another feed loop already drives the decoder.
	ErrDecoderBusy = errors.New("decoder in use by another feed loop")

	ErrNotConfigured = errors.New("decoder not configured")
	ErrNotStarted    = errors.New("decoder not started")
	ErrClosed        = errors.New("decoder closed")
	ErrBadIndex      = errors.New("invalid buffer index")

	errNotFound = errors.New("not found")
)

// IoError reports a stream that could not be loaded.
type IoError struct {
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

func (e *IoError) Is(target error) bool { return target == ErrIo }

// DecoderFault reports an unrecoverable decoder error. Op names the decoder
// operation that failed.
type DecoderFault struct {
	Op  string
	Err error
}

func (e *DecoderFault) Error() string {
	return fmt.Sprintf("decoder %s: %v", e.Op, e.Err)
}

func (e *DecoderFault) Unwrap() error { return e.Err }

func (e *DecoderFault) Is(target error) bool { return target == ErrDecoderFault }
