package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputBuffer(t *testing.T) {
	var b OutputBuffer
	assert.Nil(t, b.Tail(3))
	assert.Empty(t, b.Bytes())

	for _, s := range []string{"one ", "", "two ", "three ", "four"} {
		b.Append([]byte(s))
	}
	assert.Equal(t, 4, b.Chunks())
	assert.Equal(t, 18, b.Len())
	assert.Equal(t, "one two three four", string(b.Bytes()))
	assert.Equal(t, "two three four", string(b.Tail(3)))
	assert.Equal(t, "four", string(b.Tail(1)))
	assert.Equal(t, "one two three four", string(b.Tail(10)))
	assert.Nil(t, b.Tail(0))

	b.Reset()
	assert.Zero(t, b.Len())
	assert.Zero(t, b.Chunks())
}

func TestOutputBufferCopiesInput(t *testing.T) {
	var b OutputBuffer
	p := []byte("abc")
	b.Append(p)
	p[0] = 'x'
	assert.Equal(t, "abc", string(b.Bytes()))
}
