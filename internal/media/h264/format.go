package h264

import (
	"github.com/nareix/joy4/codec/h264parser"
)

// Only a prefix of the stream is inspected by LooksLikeAnnexB.
const probeSize = 64 * 1024

// LooksLikeAnnexB reports whether buf appears to be an Annex B byte stream
// rather than length-prefixed (AVCC) or raw data. The check only looks at how
// the leading bytes are delimited.
func LooksLikeAnnexB(buf []byte) bool {
	if len(buf) > probeSize {
		buf = buf[:probeSize]
	}
	if _, ok := FindBoundary(buf, 0, len(buf)); !ok {
		return false
	}
	return h264parser.CheckNALUsType(buf) == h264parser.NALU_ANNEXB
}
