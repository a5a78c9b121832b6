package media

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/h264play/internal/media/h264"
)

// PlayerOptions configure a Player.
type PlayerOptions struct {
	Feed FeedOptions

	// Map the input file instead of reading it.
	Mmap bool

	// Events, if set, receives the feed loop events.
	Events *Flow
}

// A Player plays one H.264 file through a decoder. It loads the file,
// configures and starts the decoder, then runs a FeedLoop in the background.
type Player struct {
	decoder Decoder
	opts    PlayerOptions

	mu   sync.Mutex
	loop *FeedLoop
}

func NewPlayer(decoder Decoder, opts PlayerOptions) *Player {
	return &Player{decoder: decoder, opts: opts}
}

// Start begins playback of the file at path, rendering decoded pictures to
// target. It returns once the feed loop is running. An unreadable file is
// reported here as an *IoError, and the loop never starts.
func (p *Player) Start(path string, target io.Writer, width, height int) error {
	return p.StartContext(context.Background(), path, target, width, height)
}

// StartContext is like Start, and stops playback when ctx is cancelled.
func (p *Player) StartContext(ctx context.Context, path string, target io.Writer, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loop != nil {
		return errors.New("player already started")
	}

	load := LoadStream
	if p.opts.Mmap {
		load = MapStream
	}
	stream, err := load(path)
	if err != nil {
		return err
	}

	if stream.Len() > 0 && !h264.LooksLikeAnnexB(stream.Bytes()) {
		log.Warn("%s does not look like an Annex B stream", path)
	}

	// A decoder driven by another loop must not be reconfigured, so claim it
	// before touching it. The claim passes to the feed loop.
	if err := claim(p.decoder); err != nil {
		stream.Close()
		return err
	}
	loop, err := p.startLoop(ctx, stream, target, width, height)
	if err != nil {
		unclaim(p.decoder)
		stream.Close()
		return err
	}
	log.Info("Playing %s (%d bytes) at %dx%d", path, stream.Len(), width, height)
	p.loop = loop
	return nil
}

func (p *Player) startLoop(ctx context.Context, stream *Stream, target io.Writer, width, height int) (*FeedLoop, error) {
	if err := p.decoder.Configure(MimeTypeAVC, width, height, target); err != nil {
		return nil, &DecoderFault{Op: "configure", Err: err}
	}
	if err := p.decoder.Start(); err != nil {
		return nil, &DecoderFault{Op: "start", Err: err}
	}

	loop := NewFeedLoop(stream, p.decoder, p.opts.Feed)
	loop.Events = p.opts.Events
	loop.claimed = true
	if err := loop.Start(ctx); err != nil {
		return nil, err
	}
	return loop, nil
}

// Stop ends playback early and waits for the feed loop to exit.
func (p *Player) Stop() error {
	loop := p.getLoop()
	if loop == nil {
		return nil
	}
	return loop.Stop()
}

// Wait blocks until playback ends and returns the feed loop result.
func (p *Player) Wait() error {
	loop := p.getLoop()
	if loop == nil {
		return errors.New("player not started")
	}
	return loop.Wait()
}

// Stats returns the feed loop counters. They are zero before Start.
func (p *Player) Stats() Stats {
	loop := p.getLoop()
	if loop == nil {
		return Stats{}
	}
	return loop.Stats()
}

// Done is closed when playback has ended. It is nil before Start.
func (p *Player) Done() <-chan struct{} {
	loop := p.getLoop()
	if loop == nil {
		return nil
	}
	return loop.Done()
}

func (p *Player) getLoop() *FeedLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}
