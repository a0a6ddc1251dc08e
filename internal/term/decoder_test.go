package term

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDecoderSplitBoundaries(t *testing.T) {
	// Any split point across two calls must reproduce the whole string.
	samples := []string{
		"plain ascii only",
		"café au lait",
		"日本語のテキスト",
		"emoji \U0001F431 mixed \U0001F680 in",
		"éèêë",
		"$ ls\n├── file.txt\n└── dir\n",
	}

	for _, sample := range samples {
		raw := []byte(sample)
		for split := 0; split <= len(raw); split++ {
			dec := NewStreamDecoder()
			first, n1 := dec.DecodeChunk(raw[:split])
			require.Equal(t, split, n1)
			second, n2 := dec.DecodeChunk(raw[split:])
			require.Equal(t, len(raw)-split, n2)
			assert.Equal(t, sample, first+second,
				"sample %q split at byte %d", sample, split)
		}
	}
}

func TestStreamDecoderThreeWaySplit(t *testing.T) {
	sample := "\U0001F408 caught ネズミ"
	raw := []byte(sample)
	for a := 0; a <= len(raw); a++ {
		for b := a; b <= len(raw); b++ {
			dec := NewStreamDecoder()
			p1, _ := dec.DecodeChunk(raw[:a])
			p2, _ := dec.DecodeChunk(raw[a:b])
			p3, _ := dec.DecodeChunk(raw[b:])
			require.Equal(t, sample, p1+p2+p3, "splits at %d/%d", a, b)
		}
	}
}

func TestStreamDecoderInvalidBytes(t *testing.T) {
	t.Run("StrayContinuationByte", func(t *testing.T) {
		dec := NewStreamDecoder()
		out, n := dec.DecodeChunk([]byte{'a', 0x80, 'b'})
		assert.Equal(t, 3, n)
		assert.Equal(t, "ab", out)
	})

	t.Run("InvalidLeadByte", func(t *testing.T) {
		dec := NewStreamDecoder()
		out, _ := dec.DecodeChunk([]byte{0xFF, 'x'})
		assert.Equal(t, "x", out)
	})

	t.Run("TruncatedSequenceNeverCompletes", func(t *testing.T) {
		dec := NewStreamDecoder()
		// First two bytes of a three-byte sequence, then ASCII instead
		// of the missing continuation byte.
		out1, _ := dec.DecodeChunk([]byte{0xE6, 0x97})
		assert.Equal(t, "", out1)
		out2, _ := dec.DecodeChunk([]byte("ok"))
		assert.Equal(t, "ok", out2)
	})

	t.Run("NeverEmitsInvalidUTF8", func(t *testing.T) {
		dec := NewStreamDecoder()
		inputs := [][]byte{
			{0xE6, 0x97, 0xA5, 0xFF},
			{0x80, 0x80, 0xE6},
			{0x97, 0xA5},
			[]byte("tail"),
		}
		for _, in := range inputs {
			out, _ := dec.DecodeChunk(in)
			assert.True(t, validUTF8(out), "output %q must be valid", out)
		}
	})
}

func TestStreamDecoderEmptyChunks(t *testing.T) {
	dec := NewStreamDecoder()
	out, n := dec.DecodeChunk(nil)
	assert.Equal(t, "", out)
	assert.Equal(t, 0, n)

	// An incomplete tail survives an empty chunk in between.
	raw := []byte("世界")
	dec.DecodeChunk(raw[:1])
	dec.DecodeChunk(nil)
	out, _ = dec.DecodeChunk(raw[1:])
	assert.Equal(t, "世界", out)
}

func validUTF8(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func BenchmarkStreamDecoder(b *testing.B) {
	dec := NewStreamDecoder()
	chunk := []byte(fmt.Sprintf("%s\n", "xé日 benchmark line with mixed content"))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		dec.DecodeChunk(chunk)
	}
}
