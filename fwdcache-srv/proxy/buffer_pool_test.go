package proxy

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetAndPutBuffer(t *testing.T) {
	buf := getBuffer()
	require.NotNil(t, buf)
	assert.Equal(t, DefaultBufferSize, len(*buf))
	putBuffer(buf)

	// Should not panic
	putBuffer(nil)
}

func TestCopyBufferLargeData(t *testing.T) {
	testData := strings.Repeat("A", DefaultBufferSize*2+1000)
	dst := &bytes.Buffer{}

	n, err := copyBuffer(dst, strings.NewReader(testData))
	require.NoError(t, err)
	assert.Equal(t, int64(len(testData)), n)
	assert.Equal(t, testData, dst.String())
}

func TestCopyBufferReaderError(t *testing.T) {
	src := io.MultiReader(strings.NewReader("test"), &failingReader{err: io.ErrUnexpectedEOF})
	dst := &bytes.Buffer{}

	n, err := copyBuffer(dst, src)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
	assert.Equal(t, int64(4), n)
}

type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) {
	return 0, r.err
}
