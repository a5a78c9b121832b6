// Package memcodec provides an in-memory decoder session. It does not decode
// anything: each submitted access unit comes back as one output buffer with
// the same bytes. It records everything it is given, which makes it the test
// double for feed loops, and the "null" backend for dry runs.
package memcodec

import (
	"io"
	"sync"
	"time"

	"github.com/lanikai/h264play/internal/media"
)

// Operation names, for fault injection and call counting.
const (
	OpAcquire = "acquire"
	OpQueue   = "queue"
	OpPoll    = "poll"
	OpRelease = "release"
)

type Options struct {
	// Pool sizes. Default 4 each.
	InputBuffers  int
	OutputBuffers int

	// Capacity of each input buffer. Default 1 MiB.
	InputBufferSize int

	// Number of access units held back before outputs become visible,
	// emulating decoder reordering delay.
	Latency int

	// Spacing of output presentation times. Default 1/30s.
	FrameDuration time.Duration

	// Saturated makes every input acquisition time out.
	Saturated bool
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

type output struct {
	data []byte
	pts  time.Duration
	eos  bool
}

type fault struct {
	after int
	err   error
}

// Decoder is an in-memory media.Decoder.
type Decoder struct {
	opts Options

	mu         sync.Mutex
	configured bool
	started    bool
	closed     bool
	target     io.Writer
	mime       string
	width      int
	height     int

	inBufs   [][]byte
	freeIn   chan media.BufferIndex
	acquired map[media.BufferIndex]bool

	outSlots []*output
	freeOut  []media.BufferIndex
	ready    chan media.BufferIndex
	pending  []*output
	flushing bool
	seq      int

	submitted [][]byte
	rendered  [][]byte
	calls     map[string]int
	faults    map[string]fault

	done chan struct{}
}

var _ media.Decoder = (*Decoder)(nil)

func New(opts Options) *Decoder {
	opts = opts.withDefaults()
	d := &Decoder{
		opts:     opts,
		inBufs:   make([][]byte, opts.InputBuffers),
		freeIn:   make(chan media.BufferIndex, opts.InputBuffers),
		acquired: make(map[media.BufferIndex]bool),
		outSlots: make([]*output, opts.OutputBuffers),
		ready:    make(chan media.BufferIndex, opts.OutputBuffers),
		calls:    make(map[string]int),
		faults:   make(map[string]fault),
		done:     make(chan struct{}),
	}
	for i := range d.inBufs {
		d.inBufs[i] = make([]byte, opts.InputBufferSize)
		d.freeIn <- media.BufferIndex(i)
	}
	for i := range d.outSlots {
		d.freeOut = append(d.freeOut, media.BufferIndex(i))
	}
	return d
}

func init() {
	media.RegisterDecoder("null", func(opts media.DecoderOptions) (media.Decoder, error) {
		return New(Options{
			InputBuffers:    opts.InputBuffers,
			OutputBuffers:   opts.OutputBuffers,
			InputBufferSize: opts.InputBufferSize,
		}), nil
	})
}

// InjectFault makes the given operation fail with err once it has succeeded
// `after` times. The fault persists for all later calls.
func (d *Decoder) InjectFault(op string, after int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = fault{after, err}
}

// enter counts a call to op and returns the injected fault, if due, or the
// lifecycle error. Called with d.mu held.
func (d *Decoder) enter(op string) error {
	if d.closed {
		return media.ErrClosed
	}
	if !d.started {
		return media.ErrNotStarted
	}
	if f, ok := d.faults[op]; ok && d.calls[op] >= f.after {
		return f.err
	}
	d.calls[op]++
	return nil
}

func (d *Decoder) Configure(mime string, width, height int, target io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return media.ErrClosed
	}
	d.mime = mime
	d.width = width
	d.height = height
	d.target = target
	d.configured = true
	return nil
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
	d.started = true
	return nil
}

func (d *Decoder) AcquireInputBuffer(timeout time.Duration) (media.BufferIndex, []byte, error) {
	d.mu.Lock()
	err := d.enter(OpAcquire)
	saturated := d.opts.Saturated
	d.mu.Unlock()
	if err != nil {
		return -1, nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if saturated {
		select {
		case <-timer.C:
		case <-d.done:
		}
		return -1, nil, media.ErrTryAgain
	}

	select {
	case i := <-d.freeIn:
		d.mu.Lock()
		d.acquired[i] = true
		d.mu.Unlock()
		return i, d.inBufs[i], nil
	case <-timer.C:
		return -1, nil, media.ErrTryAgain
	case <-d.done:
		return -1, nil, media.ErrClosed
	}
}

func (d *Decoder) QueueInputBuffer(index media.BufferIndex, offset, size int, flags media.BufferFlag) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(OpQueue); err != nil {
		return err
	}
	if !d.acquired[index] {
		return media.ErrBadIndex
	}
	if offset < 0 || size < 0 || offset+size > len(d.inBufs[index]) {
		return media.ErrBadIndex
	}

	if size > 0 {
		payload := make([]byte, size)
		copy(payload, d.inBufs[index][offset:offset+size])
		d.submitted = append(d.submitted, payload)
		d.pending = append(d.pending, &output{
			data: payload,
			pts:  time.Duration(d.seq) * d.opts.FrameDuration,
		})
		d.seq++
	}
	if flags&media.FlagEndOfStream != 0 {
		d.pending = append(d.pending, &output{eos: true})
		d.flushing = true
	}

	delete(d.acquired, index)
	d.freeIn <- index
	d.promote()
	return nil
}

// promote moves pending outputs into free output slots once the latency is
// covered. Called with d.mu held.
func (d *Decoder) promote() {
	for len(d.pending) > 0 && len(d.freeOut) > 0 {
		if !d.flushing && len(d.pending) <= d.opts.Latency {
			return
		}
		out := d.pending[0]
		d.pending = d.pending[1:]

		i := d.freeOut[0]
		d.freeOut = d.freeOut[1:]
		d.outSlots[i] = out
		d.ready <- i
	}
}

func (d *Decoder) PollOutputBuffer(timeout time.Duration) (media.BufferIndex, media.BufferInfo, error) {
	d.mu.Lock()
	err := d.enter(OpPoll)
	d.mu.Unlock()
	if err != nil {
		return -1, media.BufferInfo{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case i := <-d.ready:
		d.mu.Lock()
		out := d.outSlots[i]
		d.mu.Unlock()

		info := media.BufferInfo{Size: len(out.data), PresentationTime: out.pts}
		if out.eos {
			info.Flags |= media.FlagEndOfStream
		}
		return i, info, nil
	case <-timer.C:
		return -1, media.BufferInfo{}, media.ErrTryAgain
	case <-d.done:
		return -1, media.BufferInfo{}, media.ErrClosed
	}
}

func (d *Decoder) ReleaseOutputBuffer(index media.BufferIndex, render bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.enter(OpRelease); err != nil {
		return err
	}
	if index < 0 || int(index) >= len(d.outSlots) || d.outSlots[index] == nil {
		return media.ErrBadIndex
	}

	out := d.outSlots[index]
	if render && len(out.data) > 0 {
		d.rendered = append(d.rendered, out.data)
		if d.target != nil {
			if _, err := d.target.Write(out.data); err != nil {
				return err
			}
		}
	}

	d.outSlots[index] = nil
	d.freeOut = append(d.freeOut, index)
	d.promote()
	return nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	close(d.done)
	return nil
}

// Submitted returns copies of every non-empty access unit queued so far, in
// order.
func (d *Decoder) Submitted() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.submitted...)
}

// Rendered returns every output released with render=true, in order.
func (d *Decoder) Rendered() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.rendered...)
}

// Outstanding returns the number of input buffers acquired but not queued.
func (d *Decoder) Outstanding() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.acquired)
}

// Calls returns how many times op was entered without a fault. Acquire and
// poll calls that timed out are included.
func (d *Decoder) Calls(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[op]
}

// Format returns the configuration passed to Configure.
func (d *Decoder) Format() (mime string, width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mime, d.width, d.height
}
