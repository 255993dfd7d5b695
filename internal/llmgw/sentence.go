package llmgw

import (
	"context"
	"strings"
)

// SplitMode selects which punctuation marks terminate a fragment.
type SplitMode int

const (
	// SplitSentence breaks only on '.', '!', '?', '…' followed by whitespace.
	SplitSentence SplitMode = iota

	// SplitClause additionally breaks on ',', ';', ':' followed by whitespace,
	// trading a little prosody for lower time-to-first-audio on long sentences.
	SplitClause
)

// firstBoundary returns the index of the first terminator in s that is
// immediately followed by a whitespace character, or -1 if none exists.
// For the multi-byte '…' the index is that of its last byte, so s[:i+1]
// always ends with the whole terminator. Quoted punctuation (a terminator immediately preceded by a closing quote)
// is not special-cased — see the open-question decision in DESIGN.md.
func firstBoundary(s string, mode SplitMode) int {
	return firstBoundaryFrom(s, mode, 0)
}

// firstBoundaryFrom is firstBoundary starting the scan at byte offset from,
// used to skip past a boundary that was rejected for falling short of the
// minimum fragment length.
func firstBoundaryFrom(s string, mode SplitMode, from int) int {
	for i := from; i < len(s)-1; i++ {
		end := i
		if strings.HasPrefix(s[i:], "…") {
			end = i + len("…") - 1
		} else if !isTerminator(s[i], mode) {
			continue
		}
		if end+1 >= len(s) {
			continue
		}
		switch s[end+1] {
		case ' ', '\n', '\r', '\t':
			return end
		}
	}
	return -1
}

func isTerminator(b byte, mode SplitMode) bool {
	switch b {
	case '.', '!', '?':
		return true
	case ',', ';', ':':
		return mode == SplitClause
	}
	return false
}

// Splitter accumulates streamed text and emits complete fragments as soon as
// a boundary is crossed, flushing whatever remains when the stream ends.
// It mirrors the teacher's sentence-boundary cascade: forward fragments
// eagerly so downstream synthesis can start before the full response has
// arrived. A boundary that would produce a fragment shorter than minLength
// is skipped in favor of the next one, merging short clauses ("Ok." "Ok,")
// into their neighbor rather than handing TTS a one-word utterance.
type Splitter struct {
	mode      SplitMode
	minLength int
	buf       strings.Builder
}

// NewSplitter returns a ready-to-use Splitter for the given mode. minLength
// is the minimum character count (after trimming surrounding whitespace) a
// fragment must reach before it is emitted; pass 0 to disable the minimum.
func NewSplitter(mode SplitMode, minLength int) *Splitter {
	return &Splitter{mode: mode, minLength: minLength}
}

// Feed appends text to the internal buffer and returns any complete
// fragments it now contains, in order.
func (s *Splitter) Feed(text string) []string {
	if text != "" {
		s.buf.WriteString(text)
	}
	var out []string
	searchFrom := 0
	for {
		full := s.buf.String()
		idx := firstBoundaryFrom(full, s.mode, searchFrom)
		if idx < 0 {
			break
		}
		fragment := full[:idx+1]
		if len(strings.TrimSpace(fragment)) < s.minLength {
			searchFrom = idx + 1
			continue
		}
		rest := strings.TrimLeft(full[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
		out = append(out, fragment)
		searchFrom = 0
	}
	return out
}

// Flush returns any remaining buffered text as a final fragment, provided it
// meets the minimum length; otherwise the trailing text is dropped. Call
// once after the stream ends.
func (s *Splitter) Flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	if len(strings.TrimSpace(rest)) < s.minLength {
		return ""
	}
	return rest
}

// ForwardFragments reads chunks from in, splits them into fragments using
// mode, and writes each fragment to out as soon as it is complete. Any text
// remaining when in closes is flushed as a final fragment. ForwardFragments
// returns when in closes or ctx is cancelled, and does not close out.
func ForwardFragments(ctx context.Context, in <-chan Chunk, out chan<- string, mode SplitMode, minLength int) error {
	sp := NewSplitter(mode, minLength)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				if rest := sp.Flush(); rest != "" {
					select {
					case out <- rest:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return nil
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			for _, fragment := range sp.Feed(chunk.Text) {
				select {
				case out <- fragment:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if chunk.FinishReason != "" {
				if rest := sp.Flush(); rest != "" {
					select {
					case out <- rest:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
				return nil
			}
		}
	}
}
