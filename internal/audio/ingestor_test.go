package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/internal/audio/fakeplanar"
	"github.com/voxbridge/voxbridge/internal/audio/rawpcm"
)

func lengthPrefixed(frames ...[]byte) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], uint32(len(f)))
		buf.Write(hdr[:])
		buf.Write(f)
	}
	return buf.Bytes()
}

func TestIngestor_RawPCM_EmitsOnceAboveMinParseThreshold(t *testing.T) {
	frame := make([]byte, minParseBytes) // pads past the 1KB threshold
	in := lengthPrefixed(frame)

	var got []byte
	ig := NewIngestor(rawpcm.New(16000, 1), Format{SampleRate: 16000, Channels: 1}, func(pcm []byte) {
		got = append(got, pcm...)
	})
	ig.Push(in)

	if !bytes.Equal(got, frame) {
		t.Fatalf("got %d bytes, want %d bytes matching input frame", len(got), len(frame))
	}
}

func TestIngestor_BelowMinParseThreshold_NoEmit(t *testing.T) {
	called := false
	ig := NewIngestor(rawpcm.New(16000, 1), Format{SampleRate: 16000, Channels: 1}, func(pcm []byte) {
		called = true
	})
	ig.Push(lengthPrefixed([]byte{1, 2}))
	if called {
		t.Fatal("OnPCM should not fire below the minimum parse threshold")
	}
}

func TestIngestor_IncompleteFrame_BufferPreservedAcrossPushes(t *testing.T) {
	frame := make([]byte, minParseBytes)
	for i := range frame {
		frame[i] = byte(i)
	}
	full := lengthPrefixed(frame)

	var got []byte
	ig := NewIngestor(rawpcm.New(16000, 1), Format{SampleRate: 16000, Channels: 1}, func(pcm []byte) {
		got = append(got, pcm...)
	})

	split := len(full) - 10
	ig.Push(full[:split])
	if got != nil {
		t.Fatal("should not emit until the frame completes")
	}
	ig.Push(full[split:])
	if !bytes.Equal(got, frame) {
		t.Fatalf("got %d bytes after completion, want %d", len(got), len(frame))
	}
}

type errDecoder struct{ err error }

func (d errDecoder) Decode(buf []byte) ([]DecodedFrame, int, error) { return nil, 0, d.err }

func TestIngestor_NonIncompleteDecodeError_DropsBuffer(t *testing.T) {
	called := false
	ig := NewIngestor(errDecoder{err: errors.New("corrupt")}, Format{SampleRate: 16000, Channels: 1}, func(pcm []byte) {
		called = true
	})
	ig.Push(make([]byte, minParseBytes))
	if called {
		t.Fatal("OnPCM should not fire on a decode error")
	}
	if len(ig.buf) != 0 {
		t.Fatalf("buffer should be dropped on non-incomplete decode error, len=%d", len(ig.buf))
	}
}

func TestIngestor_PlanarFrame_Transposed(t *testing.T) {
	var planar bytes.Buffer
	planar.Write(le16(1))
	planar.Write(le16(2))
	planar.Write(le16(10))
	planar.Write(le16(20))
	frame := planar.Bytes()
	padded := append(frame, make([]byte, minParseBytes)...)
	in := lengthPrefixed(padded)

	var got []byte
	ig := NewIngestor(fakeplanar.New(16000, 2), Format{SampleRate: 16000, Channels: 2}, func(pcm []byte) {
		got = append(got, pcm...)
	})
	ig.Push(in)

	want := Transpose(padded, 2)
	if !bytes.Equal(got, want) {
		t.Fatalf("planar frame was not transposed: got %v want %v", got[:8], want[:8])
	}
}

func TestIngestor_BufferCap_TrimsOldestBytes(t *testing.T) {
	ig := NewIngestor(errDecoder{err: ErrIncompleteData}, Format{SampleRate: 16000, Channels: 1}, nil)
	ig.Push(make([]byte, maxBufferBytes+500))
	if len(ig.buf) != maxBufferBytes {
		t.Fatalf("len(buf) = %d, want capped at %d", len(ig.buf), maxBufferBytes)
	}
}
