//////////////////////////////////////////////////////////////////////////////
//
// ffmpeg decoder session
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package ffmpeg runs an ffmpeg process as a media.Decoder. Access units are
// piped to its stdin; raw I420 pictures are read back from its stdout.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lanikai/h264play/internal/logging"
	"github.com/lanikai/h264play/internal/media"
)

var log = logging.DefaultLogger.WithTag("ffmpeg")

var (
	errNotFound = errors.New("ffmpeg not found")
	errExited   = errors.New("ffmpeg exited")
	errFlushed  = errors.New("end of stream already signaled")
)

type Options struct {
	// Path of the ffmpeg binary. Found in $PATH or a few common locations
	// if empty.
	Path string

	// Replaces the default ffmpeg arguments. Mostly for tests.
	Args []string

	// Pool sizes. Default 4 each.
	InputBuffers  int
	OutputBuffers int

	// Capacity of each input buffer. Default 1 MiB.
	InputBufferSize int

	// Spacing of output presentation times. Default 1/30s.
	FrameDuration time.Duration
}

func (o Options) withDefaults() Options {
	if o.InputBuffers <= 0 {
		o.InputBuffers = 4
	}
	if o.OutputBuffers <= 0 {
		o.OutputBuffers = 4
	}
	if o.InputBufferSize <= 0 {
		o.InputBufferSize = 1 << 20
	}
	if o.FrameDuration <= 0 {
		o.FrameDuration = time.Second / 30
	}
	return o
}

// A queued input buffer, on its way to ffmpeg's stdin.
type queued struct {
	index  media.BufferIndex
	offset int
	size   int
	eos    bool
}

// A decoded picture, waiting to be polled.
type picture struct {
	index media.BufferIndex
	info  media.BufferInfo
}

// Decoder is a media.Decoder backed by an ffmpeg child process.
type Decoder struct {
	opts Options

	mu         sync.Mutex
	configured bool
	started    bool
	closed     bool
	flushed    bool
	target     io.Writer
	width      int
	height     int

	inBufs   [][]byte
	freeIn   chan media.BufferIndex
	acquired map[media.BufferIndex]bool
	queue    chan queued

	outBufs   [][]byte
	freeOut   chan media.BufferIndex
	ready     chan picture
	delivered map[media.BufferIndex]int

	cmd    *exec.Cmd
	stderr bytes.Buffer
	kill   context.CancelFunc

	// Closed once the process and both pumps have finished. err is valid
	// afterwards.
	exited chan struct{}
	err    error
}

var _ media.Decoder = (*Decoder)(nil)

func New(opts Options) *Decoder {
	opts = opts.withDefaults()
	d := &Decoder{
		opts:      opts,
		inBufs:    make([][]byte, opts.InputBuffers),
		freeIn:    make(chan media.BufferIndex, opts.InputBuffers),
		acquired:  make(map[media.BufferIndex]bool),
		queue:     make(chan queued, opts.InputBuffers),
		freeOut:   make(chan media.BufferIndex, opts.OutputBuffers),
		ready:     make(chan picture, opts.OutputBuffers),
		delivered: make(map[media.BufferIndex]int),
		exited:    make(chan struct{}),
	}
	for i := range d.inBufs {
		d.inBufs[i] = make([]byte, opts.InputBufferSize)
		d.freeIn <- media.BufferIndex(i)
	}
	return d
}

func init() {
	media.RegisterDecoder("ffmpeg", func(opts media.DecoderOptions) (media.Decoder, error) {
		return New(Options{
			Path:            opts.Command,
			InputBuffers:    opts.InputBuffers,
			OutputBuffers:   opts.OutputBuffers,
			InputBufferSize: opts.InputBufferSize,
		}), nil
	})
}

// findFFmpeg searches $PATH and common install locations.
func findFFmpeg() (string, error) {
	name := "ffmpeg"
	if runtime.GOOS == "windows" {
		name = "ffmpeg.exe"
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	for _, path := range []string{
		"/usr/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/opt/homebrew/bin/ffmpeg",
		"/snap/bin/ffmpeg",
	} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errNotFound
}

// Available reports whether an ffmpeg binary can be found.
func Available() bool {
	_, err := findFFmpeg()
	return err == nil
}

// FrameSize returns the size of one I420 picture.
func FrameSize(width, height int) int {
	return width * height * 3 / 2
}

func (d *Decoder) Configure(mime string, width, height int, target io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return media.ErrClosed
	}
	if d.started {
		return errors.New("ffmpeg: configure after start")
	}
	if mime != media.MimeTypeAVC {
		return errors.Errorf("ffmpeg: unsupported format %q", mime)
	}
	if width <= 0 || height <= 0 {
		return errors.Errorf("ffmpeg: invalid dimensions %dx%d", width, height)
	}

	d.width = width
	d.height = height
	d.target = target

	size := FrameSize(width, height)
	d.outBufs = make([][]byte, d.opts.OutputBuffers)
	for i := range d.outBufs {
		d.outBufs[i] = make([]byte, size)
	}
	d.configured = true
	return nil
}

func (d *Decoder) args() []string {
	if d.opts.Args != nil {
		return d.opts.Args
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-f", "rawvideo", "-pix_fmt", "yuv420p",
		"-s", fmt.Sprintf("%dx%d", d.width, d.height),
		"pipe:1",
	}
}

func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return media.ErrClosed
	}
	if !d.configured {
		return media.ErrNotConfigured
	}
	if d.started {
		return nil
	}

	path := d.opts.Path
	if path == "" {
		var err error
		if path, err = findFFmpeg(); err != nil {
			return err
		}
	}

	ctx, kill := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, d.args()...)
	cmd.Stderr = &d.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		kill()
		return errors.Wrap(err, "ffmpeg stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		kill()
		return errors.Wrap(err, "ffmpeg stdout")
	}
	if err := cmd.Start(); err != nil {
		kill()
		return errors.Wrapf(err, "start %s", path)
	}
	log.Debug("Started %s (pid %d)", path, cmd.Process.Pid)

	// Cancelling pumps only stops the pumps. kill also ends the process.
	pumps, stopPumps := context.WithCancel(ctx)
	d.cmd = cmd
	d.kill = kill
	for i := range d.outBufs {
		d.freeOut <- media.BufferIndex(i)
	}

	var g errgroup.Group
	g.Go(func() error {
		err := d.pumpInput(pumps, stdin)
		if err != nil {
			kill()
		}
		return err
	})
	g.Go(func() error {
		// Nothing more to feed once output has ended.
		defer stopPumps()
		err := d.pumpOutput(pumps, stdout)
		if err != nil {
			kill()
		}
		return err
	})
	go d.reap(&g)

	d.started = true
	return nil
}

// pumpInput writes queued access units to stdin in order, recycling each
// buffer once written. It closes stdin at end of stream.
func (d *Decoder) pumpInput(ctx context.Context, stdin io.WriteCloser) error {
	defer stdin.Close()
	for {
		select {
		case q := <-d.queue:
			if q.size > 0 {
				if _, err := stdin.Write(d.inBufs[q.index][q.offset : q.offset+q.size]); err != nil {
					return errors.Wrap(err, "write to ffmpeg")
				}
			}
			d.freeIn <- q.index
			if q.eos {
				log.Debug("End of stream signaled")
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// pumpOutput slices stdout into pictures, one per free output buffer. A
// short read at the end of output is discarded, and a final empty buffer
// flagged end-of-stream is delivered instead.
func (d *Decoder) pumpOutput(ctx context.Context, stdout io.Reader) error {
	var seq int
	for {
		var index media.BufferIndex
		select {
		case index = <-d.freeOut:
		case <-ctx.Done():
			return nil
		}

		n, err := io.ReadFull(stdout, d.outBufs[index])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if n > 0 {
				log.Warn("Discarding partial picture (%d bytes)", n)
			}
			d.ready <- picture{index: index, info: media.BufferInfo{Flags: media.FlagEndOfStream}}
			return nil
		} else if err != nil {
			return errors.Wrap(err, "read from ffmpeg")
		}

		d.ready <- picture{index: index, info: media.BufferInfo{
			Size:             n,
			PresentationTime: time.Duration(seq) * d.opts.FrameDuration,
		}}
		seq++
	}
}

// reap waits for both pumps and the process, then records why they ended.
func (d *Decoder) reap(g *errgroup.Group) {
	err := g.Wait()
	if werr := d.cmd.Wait(); err == nil && werr != nil {
		err = errors.Wrapf(werr, "ffmpeg: %s", tail(d.stderr.Bytes(), 512))
	}
	if err == nil {
		err = errExited
	}

	d.mu.Lock()
	d.err = err
	closed := d.closed
	d.mu.Unlock()
	if !closed && err != errExited {
		log.Error("%v", err)
	}
	close(d.exited)
}

func tail(p []byte, n int) []byte {
	p = bytes.TrimSpace(p)
	if len(p) > n {
		p = p[len(p)-n:]
	}
	return p
}

// check returns the error for calling into a session that was never started
// or is closed. Called with d.mu held.
func (d *Decoder) check() error {
	if d.closed {
		return media.ErrClosed
	}
	if !d.started {
		return media.ErrNotStarted
	}
	return nil
}

// running is like check, and also fails once the process has exited. Output
// buffers can still be drained then, but nothing more can be fed. Called
// with d.mu held.
func (d *Decoder) running() error {
	if err := d.check(); err != nil {
		return err
	}
	select {
	case <-d.exited:
		return d.err
	default:
		return nil
	}
}

func (d *Decoder) exitErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Decoder) AcquireInputBuffer(timeout time.Duration) (media.BufferIndex, []byte, error) {
	d.mu.Lock()
	err := d.running()
	d.mu.Unlock()
	if err != nil {
		return -1, nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case i := <-d.freeIn:
		d.mu.Lock()
		d.acquired[i] = true
		d.mu.Unlock()
		return i, d.inBufs[i], nil
	case <-timer.C:
		return -1, nil, media.ErrTryAgain
	case <-d.exited:
		return -1, nil, d.exitErr()
	}
}

func (d *Decoder) QueueInputBuffer(index media.BufferIndex, offset, size int, flags media.BufferFlag) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	if !d.acquired[index] {
		return media.ErrBadIndex
	}
	if offset < 0 || size < 0 || offset+size > len(d.inBufs[index]) {
		return media.ErrBadIndex
	}
	delete(d.acquired, index)

	eos := flags&media.FlagEndOfStream != 0
	if size == 0 && !eos {
		d.freeIn <- index
		return nil
	}
	if d.flushed {
		d.freeIn <- index
		return errFlushed
	}
	if err := d.running(); err != nil {
		d.freeIn <- index
		return err
	}
	d.flushed = eos

	// At most InputBuffers are ever outstanding, so this never blocks.
	d.queue <- queued{index: index, offset: offset, size: size, eos: eos}
	return nil
}

func (d *Decoder) PollOutputBuffer(timeout time.Duration) (media.BufferIndex, media.BufferInfo, error) {
	d.mu.Lock()
	err := d.check()
	d.mu.Unlock()
	if err != nil {
		return -1, media.BufferInfo{}, err
	}

	deliver := func(p picture) (media.BufferIndex, media.BufferInfo, error) {
		d.mu.Lock()
		d.delivered[p.index] = p.info.Size
		d.mu.Unlock()
		return p.index, p.info, nil
	}

	// Pictures decoded before the process exited are still delivered.
	select {
	case p := <-d.ready:
		return deliver(p)
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-d.ready:
		return deliver(p)
	case <-timer.C:
		return -1, media.BufferInfo{}, media.ErrTryAgain
	case <-d.exited:
		select {
		case p := <-d.ready:
			return deliver(p)
		default:
			return -1, media.BufferInfo{}, d.exitErr()
		}
	}
}

func (d *Decoder) ReleaseOutputBuffer(index media.BufferIndex, render bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(); err != nil {
		return err
	}
	size, ok := d.delivered[index]
	if !ok {
		return media.ErrBadIndex
	}
	delete(d.delivered, index)

	if render && size > 0 && d.target != nil {
		if _, err := d.target.Write(d.outBufs[index][:size]); err != nil {
			d.freeOut <- index
			return err
		}
	}
	d.freeOut <- index
	return nil
}

// Close stops the ffmpeg process, if still running, and waits for it.
func (d *Decoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}
	d.kill()
	<-d.exited
	return nil
}
