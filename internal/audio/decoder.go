package audio

import "errors"

// ErrIncompleteData is returned by a Decoder when the buffer does not yet
// contain a full frame. The caller must leave the buffer untouched and wait
// for more bytes rather than treating this as a failure.
var ErrIncompleteData = errors.New("audio: incomplete container data")

// DecodedFrame is one frame a Decoder extracted from a container buffer.
type DecodedFrame struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Planar     bool
}

// Decoder demuxes a container format and decodes its audio payload into PCM
// frames. Implementations are stateful across calls: a push that does not
// contain a complete frame returns ErrIncompleteData and consumed == 0, and
// the caller re-presents the same (now longer) buffer on the next push.
type Decoder interface {
	// Decode attempts to extract every complete frame available at the start
	// of buf. It returns the frames found, the number of bytes of buf that
	// were consumed, and an error. consumed bytes must be dropped by the
	// caller regardless of err; unconsumed bytes remain for the next call.
	Decode(buf []byte) (frames []DecodedFrame, consumed int, err error)
}
