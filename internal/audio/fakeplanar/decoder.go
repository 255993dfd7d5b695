// Package fakeplanar provides a test-only audio.Decoder that emits planar
// stereo frames. Neither real decoder backend (oggopus, rawpcm) produces
// planar output, so this package exists solely to drive the
// planar-to-interleaved transpose path in ingestor tests.
package fakeplanar

import (
	"encoding/binary"

	"github.com/voxbridge/voxbridge/internal/audio"
)

const headerSize = 4

// Decoder decodes the same length-prefixed framing as rawpcm, but marks
// every frame as planar so callers exercise audio.Transpose.
type Decoder struct {
	SampleRate int
	Channels   int
}

// New returns a fakeplanar.Decoder for the given sample rate and channel count.
func New(sampleRate, channels int) *Decoder {
	return &Decoder{SampleRate: sampleRate, Channels: channels}
}

// Decode extracts every complete length-prefixed frame at the start of buf,
// tagging each as planar.
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
			Planar:     true,
		})
		consumed += headerSize + n
	}
}
