package proxy

import (
	"io"
	"sync"
)

const (
	// DefaultBufferSize is the size of pooled relay buffers (32KB), the
	// same as io.Copy uses internally.
	DefaultBufferSize = 32 * 1024
)

// bufferPool holds relay buffers shared by all tunnels.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}

// copyBuffer copies from src to dst using a pooled buffer.
func copyBuffer(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := getBuffer()
	defer putBuffer(buf)
	return io.CopyBuffer(dst, src, *buf)
}
