// Package h264 delimits NAL units in an H.264 Annex B byte stream.
//
// NAL units are treated as opaque payloads. Nothing here looks at NAL unit
// types, slice headers or parameter sets.
package h264

// NotFound is the sentinel offset for callers that prefer an int result over
// the (offset, ok) pair returned by FindBoundary.
const NotFound = -1

// Size of the longest start code (00 00 00 01). The scan stops this many
// bytes short of the end of the buffer.
const maxStartCodeLen = 4

// FindBoundary returns the offset of the first start code (00 00 00 01 or
// 00 00 01) at or after searchStart, testing positions up to and including
// totalLength-4. The boolean result is false if no start code is found, or if
// searchStart is outside [0, totalLength].
//
// Callers walking a stream must pass previousBoundary+2 as searchStart, or
// the start code just consumed is found again.
func FindBoundary(buf []byte, searchStart, totalLength int) (int, bool) {
	if totalLength > len(buf) {
		totalLength = len(buf)
	}
	if searchStart < 0 || searchStart > totalLength {
		return NotFound, false
	}

	for i := searchStart; i <= totalLength-maxStartCodeLen; i++ {
		if buf[i] != 0 || buf[i+1] != 0 {
			continue
		}
		if buf[i+2] == 1 || (buf[i+2] == 0 && buf[i+3] == 1) {
			return i, true
		}
	}
	return NotFound, false
}
