// Package audio implements the voice pipeline's audio ingestion stage:
// container/codec decode, planar-to-interleaved transpose, PCM format
// conversion, and silence/max-utterance segmentation.
package audio

import "time"

// AudioFrame represents a single frame of audio data flowing through the
// pipeline. Frames are the atomic unit of audio transport — decoded from the
// inbound container, converted to the STT gateway's target format, and
// handed to the segmenter.
type AudioFrame struct {
	// PCM audio data. Sample rate, channel count, and layout are described by
	// the remaining fields.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Opus, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono (STT input), 2 for stereo.
	Channels int

	// Planar reports whether multi-channel Data is laid out as one channel's
	// samples in full followed by the next (planar) rather than interleaved
	// per-frame. Decoders that emit planar buffers must be transposed via
	// [Transpose] before FormatConverter sees them — feeding a
	// planar buffer through code that assumes interleaved data produces
	// audible channel-swapped garbage rather than an error.
	Planar bool

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}
