// Package bufpool pools the buffers used to parse event streams.
package bufpool

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

// MaxRetained is the largest buffer capacity Put keeps.
const MaxRetained = 64 << 10

var (
	buffers = sync.Pool{
		New: func() interface{} {
			return &bytes.Buffer{}
		},
	}
	readers = sync.Pool{
		New: func() interface{} {
			return bufio.NewReader(nil)
		},
	}
)

// Get returns an empty buffer.
func Get() *bytes.Buffer {
	return buffers.Get().(*bytes.Buffer)
}

// Put returns b to the pool unless it grew past MaxRetained.
func Put(b *bytes.Buffer) {
	if b.Cap() > MaxRetained {
		return
	}
	b.Reset()
	buffers.Put(b)
}

// GetReader returns a pooled bufio.Reader reading from r.
func GetReader(r io.Reader) *bufio.Reader {
	br := readers.Get().(*bufio.Reader)
	br.Reset(r)
	return br
}

// PutReader drops the reference to the underlying reader and returns br
// to the pool.
func PutReader(br *bufio.Reader) {
	br.Reset(nil)
	readers.Put(br)
}
