package h264

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exampleStream = []byte{
	0x00, 0x00, 0x01, 0xaa,
	0x00, 0x00, 0x01, 0xbb, 0xcc,
	0x00, 0x00, 0x00, 0x01, 0xdd,
}

// boundaries walks buf the way the feed loop does: first from 0, then from
// each boundary plus two.
func boundaries(buf []byte) []int {
	var found []int
	i, ok := FindBoundary(buf, 0, len(buf))
	for ok {
		found = append(found, i)
		i, ok = FindBoundary(buf, i+2, len(buf))
	}
	return found
}

func TestFindBoundaryThreeUnits(t *testing.T) {
	assert.Equal(t, []int{0, 4, 9}, boundaries(exampleStream))

	frames := Split(exampleStream)
	assert.Equal(t, []Frame{{0, 4}, {4, 9}, {9, 14}}, frames)
}

func TestFindBoundaryStartCodes(t *testing.T) {
	i, ok := FindBoundary([]byte{0xff, 0x00, 0x00, 0x01, 0x65}, 0, 5)
	require.True(t, ok)
	assert.Equal(t, 1, i)

	i, ok = FindBoundary([]byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x65}, 0, 6)
	require.True(t, ok)
	assert.Equal(t, 1, i, "4-byte start code is reported at its first zero")
}

func TestFindBoundaryNotFound(t *testing.T) {
	cases := []struct {
		name  string
		buf   []byte
		start int
	}{
		{"empty", nil, 0},
		{"short", []byte{0x00, 0x00, 0x01}, 0},
		{"no start code", []byte{0x01, 0x02, 0x03, 0x04, 0x05}, 0},
		{"negative start", exampleStream, -1},
		{"start past end", exampleStream, len(exampleStream) + 1},
		{"start at end", exampleStream, len(exampleStream)},
		{"start code in last three bytes", []byte{0xaa, 0xbb, 0x00, 0x00, 0x01}, 2},
	}
	for _, c := range cases {
		i, ok := FindBoundary(c.buf, c.start, len(c.buf))
		assert.False(t, ok, c.name)
		assert.Equal(t, NotFound, i, c.name)
	}
}

func TestFindBoundaryRespectsTotalLength(t *testing.T) {
	_, ok := FindBoundary(exampleStream, 5, 9)
	assert.False(t, ok, "start code at 9 lies beyond totalLength-4")

	i, ok := FindBoundary(exampleStream, 5, len(exampleStream))
	require.True(t, ok)
	assert.Equal(t, 9, i)
}

func TestFindBoundaryRefindsWithoutSkip(t *testing.T) {
	i, ok := FindBoundary(exampleStream, 4, len(exampleStream))
	require.True(t, ok)
	assert.Equal(t, 4, i, "searching from the boundary itself finds it again")
}

// buildStream concatenates payloads, each preceded by a 3- or 4-byte start
// code, and returns the stream and the offset of every start code.
func buildStream(r *rand.Rand, k int) ([]byte, []int) {
	var buf bytes.Buffer
	var offsets []int
	for n := 0; n < k; n++ {
		offsets = append(offsets, buf.Len())
		if r.Intn(2) == 0 {
			buf.Write([]byte{0, 0, 1})
		} else {
			buf.Write([]byte{0, 0, 0, 1})
		}
		// Payload bytes never contain 00 00, so no emulated start codes.
		size := 2 + r.Intn(64)
		for i := 0; i < size; i++ {
			buf.WriteByte(byte(1 + r.Intn(255)))
		}
	}
	return buf.Bytes(), offsets
}

func TestBoundaryCoverage(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for k := 1; k <= 50; k++ {
		buf, offsets := buildStream(r, k)
		assert.Equal(t, offsets, boundaries(buf), "k=%d", k)
	}
}

func TestFrameContiguity(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for k := 1; k <= 50; k++ {
		buf, _ := buildStream(r, k)
		frames := Split(buf)
		require.Len(t, frames, k)

		var joined []byte
		for i, f := range frames {
			assert.True(t, f.Start < f.End, "frame %v is empty", f)
			if i > 0 {
				assert.Equal(t, frames[i-1].End, f.Start, "gap or overlap before frame %d", i)
			}
			joined = append(joined, f.Bytes(buf)...)
		}
		assert.Equal(t, 0, frames[0].Start)
		assert.Equal(t, len(buf), frames[len(frames)-1].End)
		assert.True(t, bytes.Equal(buf, joined), "round trip differs for k=%d", k)
	}
}

func TestScannerTailAndReset(t *testing.T) {
	s := NewScanner(exampleStream)

	f, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, Frame{0, 4}, f)

	f, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, Frame{4, 9}, f)

	_, ok = s.Next()
	assert.False(t, ok)
	_, ok = s.Next()
	assert.False(t, ok, "exhausted scanner stays exhausted")

	assert.Equal(t, 9, s.Cursor())
	assert.Equal(t, Frame{9, 14}, s.Tail())
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0xdd}, s.Tail().Bytes(exampleStream))

	s.Reset()
	f, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, Frame{0, 4}, f)
}

func TestSplitWithoutStartCodes(t *testing.T) {
	buf := []byte{0x09, 0x10, 0x11}
	assert.Equal(t, []Frame{{0, 3}}, Split(buf))
	assert.Nil(t, Split(nil))
}

func TestLooksLikeAnnexB(t *testing.T) {
	buf := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x1e,
		0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80,
		0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x21,
	}
	assert.True(t, LooksLikeAnnexB(buf))
	assert.True(t, LooksLikeAnnexB(exampleStream))

	// Length-prefixed: a 4-byte big-endian size followed by the payload.
	avcc := []byte{0x00, 0x00, 0x00, 0x03, 0x65, 0x88, 0x84}
	assert.False(t, LooksLikeAnnexB(avcc))

	assert.False(t, LooksLikeAnnexB([]byte{0x47, 0x40, 0x00, 0x10, 0x00}))
}
