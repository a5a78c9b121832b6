package media_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/h264play/internal/codec/memcodec"
	"github.com/lanikai/h264play/internal/media"
	"github.com/lanikai/h264play/internal/media/h264"
)

// Three NAL units: [0,4), [4,9), and the unterminated tail [9,14).
var exampleStream = []byte{
	0x00, 0x00, 0x01, 0xaa,
	0x00, 0x00, 0x01, 0xbb, 0xcc,
	0x00, 0x00, 0x00, 0x01, 0xdd,
}

// No pacing, so tests run as fast as the decoder allows.
var fast = media.FeedOptions{Pace: -1, Timeout: 2 * time.Millisecond, DrainTimeout: 50 * time.Millisecond}

func newDecoder(t *testing.T, opts memcodec.Options, target io.Writer) *memcodec.Decoder {
	d := memcodec.New(opts)
	require.NoError(t, d.Configure(media.MimeTypeAVC, 16, 16, target))
	require.NoError(t, d.Start())
	return d
}

func run(t *testing.T, data []byte, d media.Decoder, opts media.FeedOptions) *media.FeedLoop {
	loop := media.NewFeedLoop(media.NewStream("test", data), d, opts)
	require.NoError(t, loop.Start(context.Background()))
	select {
	case <-loop.Done():
	case <-time.After(5 * time.Second):
		loop.Stop()
		t.Fatal("feed loop did not terminate")
	}
	return loop
}

func TestFeedLoopSubmitsFramesInOrder(t *testing.T) {
	var target bytes.Buffer
	d := newDecoder(t, memcodec.Options{}, &target)

	loop := run(t, exampleStream, d, fast)
	require.NoError(t, loop.Wait())

	assert.Equal(t, [][]byte{exampleStream[0:4], exampleStream[4:9]}, d.Submitted())
	assert.Equal(t, exampleStream[0:9], target.Bytes())

	stats := loop.Stats()
	assert.Equal(t, media.Terminated, stats.State)
	assert.Equal(t, media.ErrScanExhausted, stats.Reason)
	assert.Equal(t, 2, stats.Frames)
	assert.Equal(t, 2, stats.Submitted)
	assert.Equal(t, int64(9), stats.SubmittedBytes)
	assert.Equal(t, 2, stats.Rendered)
	assert.Equal(t, 0, d.Outstanding(), "no input buffer left acquired")
}

func TestFeedLoopFlushTail(t *testing.T) {
	var target bytes.Buffer
	d := newDecoder(t, memcodec.Options{Latency: 1}, &target)

	opts := fast
	opts.FlushTail = true
	loop := run(t, exampleStream, d, opts)
	require.NoError(t, loop.Wait())

	require.Len(t, d.Submitted(), 3)
	assert.Equal(t, exampleStream[9:], d.Submitted()[2])
	assert.Equal(t, exampleStream, target.Bytes(), "every frame rendered, including the tail")
	assert.Equal(t, media.Terminated, loop.State())
}

func TestFeedLoopRoundTrip(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			stream.Write([]byte{0, 0, 0, 1})
		} else {
			stream.Write([]byte{0, 0, 1})
		}
		stream.Write(bytes.Repeat([]byte{byte(i + 1)}, 10+i))
	}

	var target bytes.Buffer
	d := newDecoder(t, memcodec.Options{Latency: 3}, &target)

	opts := fast
	opts.FlushTail = true
	loop := run(t, stream.Bytes(), d, opts)
	require.NoError(t, loop.Wait())

	submitted := d.Submitted()
	require.Len(t, submitted, 40)
	assert.Equal(t, stream.Bytes(), bytes.Join(submitted, nil))
	assert.Equal(t, stream.Bytes(), target.Bytes())
}

func TestFeedLoopTerminatesWithoutStartCodes(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	loop := run(t, []byte{0x65, 0x88, 0x84, 0x00, 0x21}, d, fast)
	require.NoError(t, loop.Wait())

	assert.Empty(t, d.Submitted())
	assert.Equal(t, 0, d.Calls(memcodec.OpAcquire))
	assert.Equal(t, media.ErrScanExhausted, loop.Stats().Reason)
}

func TestFeedLoopEmptyStream(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	opts := fast
	opts.FlushTail = true
	opts.Loop = true
	loop := run(t, nil, d, opts)
	require.NoError(t, loop.Wait())
	assert.Empty(t, d.Submitted())
}

func TestFeedLoopReplayWithoutFrames(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	opts := fast
	opts.Loop = true
	loop := run(t, []byte{0x65, 0x88, 0x84, 0x00, 0x21}, d, opts)
	require.NoError(t, loop.Wait())

	stats := loop.Stats()
	assert.Equal(t, media.ErrScanExhausted, stats.Reason)
	assert.Equal(t, 0, stats.Replays)
	assert.Equal(t, 0, d.Calls(memcodec.OpAcquire))
}

func TestFeedLoopSaturatedInputProgresses(t *testing.T) {
	d := newDecoder(t, memcodec.Options{Saturated: true}, nil)

	loop := run(t, exampleStream, d, fast)
	require.NoError(t, loop.Wait())

	stats := loop.Stats()
	assert.Equal(t, 2, stats.Frames)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 0, stats.Submitted)
	assert.Equal(t, 2, d.Calls(memcodec.OpPoll), "output drained every cycle")
	assert.Equal(t, media.Terminated, stats.State)
}

func TestFeedLoopDecoderFault(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)
	boom := errors.New("device lost")
	d.InjectFault(memcodec.OpQueue, 1, boom)

	loop := run(t, exampleStream, d, fast)
	err := loop.Wait()
	require.Error(t, err)

	assert.True(t, errors.Is(err, media.ErrDecoderFault))
	assert.True(t, errors.Is(err, boom))
	var fault *media.DecoderFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "queue input", fault.Op)

	assert.Equal(t, media.Failed, loop.State())
	assert.Len(t, d.Submitted(), 1, "no submissions after the fault")
}

func TestFeedLoopFrameTooLarge(t *testing.T) {
	d := newDecoder(t, memcodec.Options{InputBufferSize: 4}, nil)

	loop := run(t, exampleStream, d, fast)
	err := loop.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, media.ErrFrameTooLarge))

	// [0,4) fits, [4,9) does not and is never partially written.
	assert.Equal(t, [][]byte{exampleStream[0:4]}, d.Submitted())
	assert.Equal(t, 0, d.Outstanding())
}

func TestFeedLoopStop(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	// Pacing keeps the loop busy long enough to stop it mid-stream.
	stream := bytes.Repeat([]byte{0, 0, 1, 0x41}, 1000)
	loop := media.NewFeedLoop(media.NewStream("test", stream), d, media.FeedOptions{Pace: 5 * time.Millisecond})
	require.NoError(t, loop.Start(context.Background()))

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, loop.Stop())

	stats := loop.Stats()
	assert.Equal(t, media.Terminated, stats.State)
	assert.Equal(t, media.ErrStopped, stats.Reason)
	assert.True(t, stats.Frames < 999)

	acquired := d.Calls(memcodec.OpAcquire)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, acquired, d.Calls(memcodec.OpAcquire), "no acquisitions after stop")
	assert.Equal(t, 0, d.Outstanding())

	require.NoError(t, loop.Stop(), "stop is idempotent")
}

func TestFeedLoopContextCancel(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	stream := bytes.Repeat([]byte{0, 0, 1, 0x41}, 1000)
	loop := media.NewFeedLoop(media.NewStream("test", stream), d, media.FeedOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))

	cancel()
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel did not stop the loop")
	}
	assert.NoError(t, loop.Wait())
	assert.Equal(t, media.ErrStopped, loop.Stats().Reason)
}

func TestFeedLoopReplay(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	opts := fast
	opts.Loop = true
	loop := media.NewFeedLoop(media.NewStream("test", exampleStream), d, opts)
	require.NoError(t, loop.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for loop.Stats().Replays < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, loop.Stop())

	stats := loop.Stats()
	assert.True(t, stats.Replays >= 3)
	submitted := d.Submitted()
	require.True(t, len(submitted) >= 6)
	assert.Equal(t, exampleStream[0:4], submitted[2], "replay restarts at offset 0")
}

func TestFeedLoopExclusiveDecoder(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	stream := bytes.Repeat([]byte{0, 0, 1, 0x41}, 100)
	first := media.NewFeedLoop(media.NewStream("a", stream), d, media.FeedOptions{})
	require.NoError(t, first.Start(context.Background()))

	second := media.NewFeedLoop(media.NewStream("b", stream), d, fast)
	assert.Equal(t, media.ErrDecoderBusy, second.Start(context.Background()))

	require.NoError(t, first.Stop())

	third := run(t, exampleStream, d, fast)
	assert.NoError(t, third.Wait(), "decoder is free once the first loop ended")
}

func TestFeedLoopEvents(t *testing.T) {
	d := newDecoder(t, memcodec.Options{}, nil)

	var flow media.Flow
	events := flow.Subscribe(64)

	loop := media.NewFeedLoop(media.NewStream("test", exampleStream), d, fast)
	loop.Events = &flow
	require.NoError(t, loop.Start(context.Background()))
	require.NoError(t, loop.Wait())
	flow.Close()

	var types []string
	var frames []h264.Frame
	for p := range events {
		var e media.Event
		require.NoError(t, json.Unmarshal(p, &e))
		types = append(types, e.Type)
		if e.Type == media.EventFrame {
			frames = append(frames, h264.Frame{Start: e.Start, End: e.End})
		}
	}

	assert.Equal(t, []string{
		media.EventState,
		media.EventFrame, media.EventRender,
		media.EventFrame, media.EventRender,
		media.EventState,
	}, types)
	assert.Equal(t, []h264.Frame{{Start: 0, End: 4}, {Start: 4, End: 9}}, frames)
}

func TestFeedLoopWaitBeforeStart(t *testing.T) {
	loop := media.NewFeedLoop(media.NewStream("test", exampleStream), memcodec.New(memcodec.Options{}), fast)
	assert.Error(t, loop.Wait())
	assert.NoError(t, loop.Stop())
	assert.Nil(t, loop.Done())
	assert.Equal(t, media.Init, loop.State())
}
