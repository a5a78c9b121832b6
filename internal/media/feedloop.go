package media

import (
	"context"
	"sync"
	"time"

	errors "golang.org/x/xerrors"

	"github.com/lanikai/h264play/internal/media/h264"
)

// LoopState is the state of a FeedLoop.
type LoopState int

const (
	Init LoopState = iota
	Streaming
	Terminated
	Failed
)

func (s LoopState) String() string {
	switch s {
	case Init:
		return "init"
	case Streaming:
		return "streaming"
	case Terminated:
		return "terminated"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// FeedOptions tune a FeedLoop. Zero values select the defaults.
type FeedOptions struct {
	// Bounded wait for acquiring an input buffer or polling an output
	// buffer. Default 10ms.
	Timeout time.Duration

	// Delay between cycles. Default 100ms; negative disables pacing.
	Pace time.Duration

	// Submit the unterminated tail of the stream as a final access unit,
	// then signal end of stream and drain outputs.
	FlushTail bool

	// How long the drain waits for a further output before giving up.
	// Default 1s.
	DrainTimeout time.Duration

	// Replay the stream from the start instead of terminating. A pass that
	// yields no frame ends the loop.
	Loop bool
}

const (
	defaultTimeout      = 10 * time.Millisecond
	defaultPace         = 100 * time.Millisecond
	defaultDrainTimeout = time.Second
)

func (o FeedOptions) withDefaults() FeedOptions {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Pace == 0 {
		o.Pace = defaultPace
	} else if o.Pace < 0 {
		o.Pace = 0
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = defaultDrainTimeout
	}
	return o
}

// Stats counts what a FeedLoop has done so far.
type Stats struct {
	State LoopState

	// Frames scanned, including those skipped.
	Frames int

	// Frames submitted to the decoder, and their total size.
	Submitted      int
	SubmittedBytes int64

	// Frames dropped because no input buffer became available in time.
	Skipped int

	// Output buffers released for rendering.
	Rendered int

	// Times the stream was replayed from the start.
	Replays int

	// Why the loop ended: ErrScanExhausted, ErrStopped, or a fault.
	Reason error
}

// FeedLoop walks a Stream frame by frame and feeds it to a Decoder. Frames are
// delimited by Annex B start codes and submitted in stream order, one per
// cycle. Each cycle also collects at most one decoded output and releases it
// for rendering.
//
// The decoder must already be configured and started. The loop takes
// ownership of the stream and closes it when it ends.
type FeedLoop struct {
	// Events, if set, receives an Event for each state change, frame and
	// rendered output. Set before Start.
	Events *Flow

	stream  *Stream
	decoder Decoder
	opts    FeedOptions

	task *task

	// Set when the decoder was claimed before Start, by the Player.
	claimed bool

	mu    sync.Mutex
	stats Stats
}

// NewFeedLoop prepares a loop in the Init state.
func NewFeedLoop(stream *Stream, decoder Decoder, opts FeedOptions) *FeedLoop {
	return &FeedLoop{
		stream:  stream,
		decoder: decoder,
		opts:    opts.withDefaults(),
	}
}

// Start launches the loop on its own goroutine. Cancelling ctx has the same
// effect as Stop.
func (l *FeedLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.task != nil {
		l.mu.Unlock()
		return errors.New("feed loop already started")
	}
	if !l.claimed {
		if err := claim(l.decoder); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	l.task = newTask(l.run)
	l.mu.Unlock()

	l.task.start()

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.task.stop()
			case <-l.task.done():
			}
		}()
	}
	return nil
}

// Stop asks the loop to end after the current decoder call and waits for it.
// No buffers are acquired once Stop has been called. Stop returns the same
// result as Wait.
func (l *FeedLoop) Stop() error {
	t := l.getTask()
	if t == nil {
		return nil
	}
	return t.stop()
}

// Wait blocks until the loop ends. It returns nil if the stream was exhausted
// or the loop was stopped, and a *DecoderFault otherwise.
func (l *FeedLoop) Wait() error {
	t := l.getTask()
	if t == nil {
		return errors.New("feed loop not started")
	}
	return t.wait()
}

// Done is closed when the loop has ended. It is nil before Start.
func (l *FeedLoop) Done() <-chan struct{} {
	t := l.getTask()
	if t == nil {
		return nil
	}
	return t.done()
}

func (l *FeedLoop) getTask() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.task
}

// State returns the current loop state.
func (l *FeedLoop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.State
}

// Stats returns a snapshot of the loop counters.
func (l *FeedLoop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *FeedLoop) update(fn func(s *Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

func (l *FeedLoop) setState(state LoopState, reason error) {
	l.update(func(s *Stats) {
		s.State = state
		s.Reason = reason
	})

	e := Event{Type: EventState, State: state.String()}
	if reason != nil {
		e.Reason = reason.Error()
	}
	l.publish(e)

	if reason != nil && state == Failed {
		log.Error("Feed loop %s: %v", state, reason)
	} else if reason != nil {
		log.Info("Feed loop %s: %v", state, reason)
	} else {
		log.Info("Feed loop %s", state)
	}
}

func stopped(quit <-chan struct{}) bool {
	select {
	case <-quit:
		return true
	default:
		return false
	}
}

func (l *FeedLoop) run(quit <-chan struct{}) (err error) {
	defer unclaim(l.decoder)
	defer l.stream.Close()

	defer func() {
		switch {
		case err != nil:
			l.setState(Failed, err)
		case stopped(quit):
			l.setState(Terminated, ErrStopped)
		default:
			l.setState(Terminated, ErrScanExhausted)
		}
	}()

	l.setState(Streaming, nil)

	buf := l.stream.Bytes()
	scanner := h264.NewScanner(buf)

	// Frames cycled during the current pass. A pass without any is not
	// replayed.
	passFrames := 0

	for !stopped(quit) {
		frame, ok := scanner.Next()
		if !ok {
			// End of stream. Nothing beyond the last boundary is submitted
			// unless FlushTail is set.
			if l.opts.FlushTail {
				if tail := scanner.Tail(); tail.Len() > 0 {
					if _, err := l.cycle(buf, tail); err != nil {
						return err
					}
					passFrames++
				}
			}
			if l.opts.Loop && passFrames > 0 {
				passFrames = 0
				scanner.Reset()
				l.update(func(s *Stats) { s.Replays++ })
				log.Debug("Replaying %s", l.stream.Name())
				if !l.pace(quit) {
					return nil
				}
				continue
			}
			if l.opts.FlushTail {
				return l.drain(quit)
			}
			return nil
		}

		if _, err := l.cycle(buf, frame); err != nil {
			return err
		}
		passFrames++
		if !l.pace(quit) {
			return nil
		}
	}
	return nil
}

// cycle submits one frame, if an input buffer is available in time, then
// releases at most one decoded output. It reports whether an output flagged
// end-of-stream was seen.
func (l *FeedLoop) cycle(buf []byte, frame h264.Frame) (bool, error) {
	l.update(func(s *Stats) { s.Frames++ })

	index, in, err := l.decoder.AcquireInputBuffer(l.opts.Timeout)
	switch {
	case err == nil:
		if err := l.submit(index, in, buf, frame); err != nil {
			return false, err
		}
	case errors.Is(err, ErrTryAgain):
		l.update(func(s *Stats) { s.Skipped++ })
		l.publish(Event{Type: EventSkip, Start: frame.Start, End: frame.End})
		log.Trace(5, "No input buffer for frame %v", frame)
	default:
		return false, &DecoderFault{Op: "acquire input", Err: err}
	}

	return l.renderOne()
}

// submit copies the whole frame into the acquired buffer and queues it.
// Frames are never truncated.
func (l *FeedLoop) submit(index BufferIndex, in []byte, buf []byte, frame h264.Frame) error {
	size := frame.Len()
	if size > len(in) {
		// Hand the buffer back empty before failing.
		if err := l.decoder.QueueInputBuffer(index, 0, 0, 0); err != nil {
			log.Warn("Returning input buffer %d: %v", index, err)
		}
		return &DecoderFault{
			Op:  "queue input",
			Err: errors.Errorf("frame %v is %d bytes, buffer holds %d: %w", frame, size, len(in), ErrFrameTooLarge),
		}
	}

	copy(in, frame.Bytes(buf))
	if err := l.decoder.QueueInputBuffer(index, 0, size, 0); err != nil {
		return &DecoderFault{Op: "queue input", Err: err}
	}

	l.update(func(s *Stats) {
		s.Submitted++
		s.SubmittedBytes += int64(size)
	})
	l.publish(Event{Type: EventFrame, Start: frame.Start, End: frame.End, Index: int(index), Size: size})
	log.Trace(5, "Submitted frame %v (%d bytes) in buffer %d", frame, size, index)
	return nil
}

// renderOne polls for one output buffer and releases it for rendering.
func (l *FeedLoop) renderOne() (bool, error) {
	index, info, err := l.decoder.PollOutputBuffer(l.opts.Timeout)
	if errors.Is(err, ErrTryAgain) {
		return false, nil
	} else if err != nil {
		return false, &DecoderFault{Op: "poll output", Err: err}
	}

	if err := l.decoder.ReleaseOutputBuffer(index, true); err != nil {
		return false, &DecoderFault{Op: "release output", Err: err}
	}

	l.update(func(s *Stats) { s.Rendered++ })
	l.publish(Event{Type: EventRender, Index: int(index), Size: info.Size, PTS: info.PresentationTime})
	log.Trace(5, "Rendered output buffer %d (%d bytes)", index, info.Size)
	return info.Flags&FlagEndOfStream != 0, nil
}

// drain signals end of stream to the decoder and releases outputs until the
// decoder flags its last output, nothing arrives for DrainTimeout, or the
// loop is stopped.
func (l *FeedLoop) drain(quit <-chan struct{}) error {
	deadline := time.Now().Add(l.opts.DrainTimeout)

	signaled := false
	for !signaled && time.Now().Before(deadline) {
		if stopped(quit) {
			return nil
		}
		index, _, err := l.decoder.AcquireInputBuffer(l.opts.Timeout)
		if errors.Is(err, ErrTryAgain) {
			// Outputs may be what the decoder is waiting on.
			if eos, err := l.renderOne(); err != nil || eos {
				return err
			}
			continue
		} else if err != nil {
			return &DecoderFault{Op: "acquire input", Err: err}
		}
		if err := l.decoder.QueueInputBuffer(index, 0, 0, FlagEndOfStream); err != nil {
			return &DecoderFault{Op: "queue input", Err: err}
		}
		signaled = true
	}
	if !signaled {
		log.Warn("No input buffer to signal end of stream")
	}

	deadline = time.Now().Add(l.opts.DrainTimeout)
	for time.Now().Before(deadline) {
		if stopped(quit) {
			return nil
		}
		before := l.Stats().Rendered
		eos, err := l.renderOne()
		if err != nil || eos {
			return err
		}
		if l.Stats().Rendered > before {
			deadline = time.Now().Add(l.opts.DrainTimeout)
		}
	}
	log.Debug("Drain timed out after %v", l.opts.DrainTimeout)
	return nil
}

// pace sleeps between cycles. It returns false if the loop was stopped
// meanwhile.
func (l *FeedLoop) pace(quit <-chan struct{}) bool {
	if l.opts.Pace <= 0 {
		return !stopped(quit)
	}
	timer := time.NewTimer(l.opts.Pace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-quit:
		return false
	}
}
