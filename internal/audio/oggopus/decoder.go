// Package oggopus implements audio.Decoder for Ogg-encapsulated Opus,
// the format relayed by voice-channel plugins. It demuxes Ogg pages with
// pion's oggreader and decodes the embedded Opus packets with gopus, the
// same decode library used for Discord voice elsewhere in this codebase.
package oggopus

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"layeh.com/gopus"

	"github.com/voxbridge/voxbridge/internal/audio"
)

const (
	sampleRate = 48000
	channels   = 2
	// frameSize is samples per channel for a 20ms frame at 48kHz, matching
	// the frame size Opus packets on this path are encoded with.
	frameSize = sampleRate * 20 / 1000
)

// Decoder decodes a sequence of Ogg-Opus containers into interleaved PCM.
// A fresh container may begin on any push (a browser MediaRecorder emits
// one Ogg file per capture timeslice), so each Decode call attempts to
// parse buf from byte zero as a complete, self-contained Ogg stream; it
// only reports success, and consumes bytes, once the whole buffer has been
// demuxed cleanly.
type Decoder struct {
	opus *gopus.Decoder
}

// New creates an oggopus.Decoder with its own Opus decoder state.
func New() (*Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("oggopus: create opus decoder: %w", err)
	}
	return &Decoder{opus: dec}, nil
}

// Decode attempts to demux buf as one complete Ogg-Opus container.
func (d *Decoder) Decode(buf []byte) ([]audio.DecodedFrame, int, error) {
	r, _, err := oggreader.NewWith(bytes.NewReader(buf))
	if err != nil {
		return nil, 0, audio.ErrIncompleteData
	}

	var frames []audio.DecodedFrame
	for {
		payload, _, err := r.ParseNextPage()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, audio.ErrIncompleteData
		}
		if len(payload) == 0 {
			continue
		}
		pcm, err := d.opus.Decode(payload, frameSize, false)
		if err != nil {
			return nil, 0, fmt.Errorf("oggopus: opus decode: %w", err)
		}
		frames = append(frames, audio.DecodedFrame{
			PCM:        int16sToBytes(pcm),
			SampleRate: sampleRate,
			Channels:   channels,
		})
	}
	if len(frames) == 0 {
		return nil, 0, audio.ErrIncompleteData
	}
	return frames, len(buf), nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
