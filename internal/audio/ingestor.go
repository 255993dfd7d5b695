package audio

import "log/slog"

const (
	// maxBufferBytes is the safety cap on the per-session container buffer;
	// beyond it the oldest bytes are trimmed to bound memory under a
	// decoder that never makes progress.
	maxBufferBytes = 500 * 1024
	// minParseBytes is the minimum buffered size before a decode attempt is
	// worth making.
	minParseBytes = 1024
)

// Ingestor turns pushed container-framed audio bytes into PCM callbacks for
// a single session. It is not safe for concurrent use; the Session
// Controller serializes pushes for a session through a single goroutine.
type Ingestor struct {
	decoder   Decoder
	converter *FormatConverter

	buf []byte

	OnPCM func(pcm []byte)
}

// NewIngestor returns an Ingestor that decodes with dec and converts decoded
// frames to target before invoking onPCM.
func NewIngestor(dec Decoder, target Format, onPCM func(pcm []byte)) *Ingestor {
	return &Ingestor{decoder: dec, converter: &FormatConverter{Target: target}, OnPCM: onPCM}
}

// Push appends raw bytes to the container buffer and, if any complete
// frames can be decoded, invokes OnPCM once with all of their converted PCM
// concatenated. A push that adds no decodable frame is normal — it means
// the buffer is still accumulating toward a complete frame or page.
func (ig *Ingestor) Push(chunk []byte) {
	ig.buf = append(ig.buf, chunk...)
	if len(ig.buf) > maxBufferBytes {
		ig.buf = ig.buf[len(ig.buf)-maxBufferBytes:]
	}
	if len(ig.buf) < minParseBytes {
		return
	}

	var combined []byte
	for {
		frames, consumed, err := ig.decoder.Decode(ig.buf)
		if err != nil {
			if err == ErrIncompleteData {
				break
			}
			slog.Warn("audio: decode error, dropping buffer", "error", err)
			ig.buf = ig.buf[:0]
			break
		}
		ig.buf = ig.buf[consumed:]
		for _, f := range frames {
			combined = append(combined, ig.processFrame(f)...)
		}
		if consumed == 0 || len(ig.buf) == 0 {
			break
		}
	}

	if len(combined) > 0 && ig.OnPCM != nil {
		ig.OnPCM(combined)
	}
}

func (ig *Ingestor) processFrame(f DecodedFrame) []byte {
	data := f.PCM
	if f.Planar && f.Channels > 1 {
		data = Transpose(data, f.Channels)
	}
	converted := ig.converter.Convert(AudioFrame{
		Data:       data,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	})
	return converted.Data
}
