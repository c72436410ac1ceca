package runner

import "bytes"

// OutputBuffer holds the raw chunks read during one command.
type OutputBuffer struct {
	chunks [][]byte
	size   int
}

func (b *OutputBuffer) Reset() {
	b.chunks = nil
	b.size = 0
}

// Append stores a copy of p as a new chunk. Empty chunks are ignored.
func (b *OutputBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.chunks = append(b.chunks, bytes.Clone(p))
	b.size += len(p)
}

// Tail joins the last n chunks.
func (b *OutputBuffer) Tail(n int) []byte {
	if n <= 0 || len(b.chunks) == 0 {
		return nil
	}
	if n > len(b.chunks) {
		n = len(b.chunks)
	}
	return bytes.Join(b.chunks[len(b.chunks)-n:], nil)
}

// Bytes joins every chunk.
func (b *OutputBuffer) Bytes() []byte {
	return bytes.Join(b.chunks, nil)
}

func (b *OutputBuffer) Len() int { return b.size }

func (b *OutputBuffer) Chunks() int { return len(b.chunks) }
