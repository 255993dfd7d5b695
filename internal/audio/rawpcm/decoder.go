// Package rawpcm implements audio.Decoder for clients that already capture
// interleaved 16-bit PCM and wrap it in a minimal length-prefixed framing
// (a browser AudioWorklet, for instance, has no reason to pay for an Opus
// encode round trip on a loopback connection).
package rawpcm

import (
	"encoding/binary"

	"github.com/voxbridge/voxbridge/internal/audio"
)

// headerSize is the length of the frame-length prefix: one big-endian
// uint32 giving the number of PCM bytes that follow.
const headerSize = 4

// Decoder is a pass-through audio.Decoder: each frame is the client's own
// PCM, already interleaved, already at the declared sample rate.
type Decoder struct {
	SampleRate int
	Channels   int
}

// New returns a rawpcm.Decoder for the given fixed sample rate and channel
// count, as declared by the session's format negotiation.
func New(sampleRate, channels int) *Decoder {
	return &Decoder{SampleRate: sampleRate, Channels: channels}
}

// Decode extracts every complete length-prefixed frame at the start of buf.
func (d *Decoder) Decode(buf []byte) ([]audio.DecodedFrame, int, error) {
	var frames []audio.DecodedFrame
	consumed := 0
	for {
		rest := buf[consumed:]
		if len(rest) < headerSize {
			if consumed == 0 {
				return nil, 0, audio.ErrIncompleteData
			}
			return frames, consumed, nil
		}
		n := int(binary.BigEndian.Uint32(rest[:headerSize]))
		if len(rest) < headerSize+n {
			if consumed == 0 {
				return nil, 0, audio.ErrIncompleteData
			}
			return frames, consumed, nil
		}
		pcm := make([]byte, n)
		copy(pcm, rest[headerSize:headerSize+n])
		frames = append(frames, audio.DecodedFrame{
			PCM:        pcm,
			SampleRate: d.SampleRate,
			Channels:   d.Channels,
		})
		consumed += headerSize + n
	}
}
