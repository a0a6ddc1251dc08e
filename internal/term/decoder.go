// Package term implements the text side of the streaming pipeline: a
// boundary-safe UTF-8 decoder for captured byte chunks and a line-oriented
// delta tracker that turns raw terminal output into minimal per-client
// updates.
package term

import (
	"strings"
	"unicode/utf8"
)

// StreamDecoder decodes a byte stream arriving in arbitrary chunks into
// valid UTF-8 text. Multi-byte characters split across chunk boundaries are
// carried over as an incomplete tail (at most utf8.UTFMax bytes) and
// completed by the next chunk, so split runes are never corrupted, dropped,
// or duplicated. Bytes that can never form a valid sequence are skipped;
// the decoder never emits invalid text.
type StreamDecoder struct {
	incomplete []byte
}

// NewStreamDecoder creates a decoder with no carried-over state.
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{incomplete: make([]byte, 0, utf8.UTFMax)}
}

// DecodeChunk decodes input together with any incomplete tail saved from the
// previous call. It returns the decoded text and the number of input bytes
// processed (always all of them: each byte is either decoded, saved as a
// possibly-incomplete tail, or discarded as unrecoverable).
func (d *StreamDecoder) DecodeChunk(input []byte) (string, int) {
	data := input
	if len(d.incomplete) > 0 {
		data = make([]byte, 0, len(d.incomplete)+len(input))
		data = append(data, d.incomplete...)
		data = append(data, input...)
		d.incomplete = d.incomplete[:0]
	}

	// Fast path: the whole chunk is already valid.
	if utf8.Valid(data) {
		return string(data), len(input)
	}

	var sb strings.Builder
	sb.Grow(len(data))
	pos := 0
	for pos < len(data) {
		r, size := utf8.DecodeRune(data[pos:])
		if r == utf8.RuneError && size <= 1 {
			rest := data[pos:]
			if isPartialRune(rest) {
				// A legitimately incomplete sequence at the tail;
				// re-validated once the next chunk arrives.
				d.incomplete = append(d.incomplete[:0], rest...)
				break
			}
			// Invalid lead or stray continuation byte: skip it,
			// nothing downstream can use it.
			pos++
			continue
		}
		sb.Write(data[pos : pos+size])
		pos += size
	}

	return sb.String(), len(input)
}

// isPartialRune reports whether b is a prefix of a multi-byte UTF-8 sequence
// that further bytes could still complete.
func isPartialRune(b []byte) bool {
	if len(b) == 0 || len(b) >= utf8.UTFMax {
		return false
	}
	var want int
	switch {
	case b[0]&0xE0 == 0xC0:
		want = 2
	case b[0]&0xF0 == 0xE0:
		want = 3
	case b[0]&0xF8 == 0xF0:
		want = 4
	default:
		return false
	}
	if len(b) >= want {
		return false
	}
	for _, c := range b[1:] {
		if c&0xC0 != 0x80 {
			return false
		}
	}
	return true
}
