package tunnel

import (
	"io"
	"sync"
)

const copyBufferSize = 32 * 1024 // 32KB, also the largest message sent upstream

var copyBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, copyBufferSize)
		return &buf
	},
}

// onlyReader and onlyWriter hide ReadFrom/WriteTo so io.CopyBuffer always
// goes through the pooled buffer and chunk size stays bounded.
type onlyReader struct{ io.Reader }

type onlyWriter struct{ io.Writer }

// CopyBuffered performs io.CopyBuffer using pooled buffers.
// Chunks are written in the order they are read, one Write per Read.
func CopyBuffered(dst io.Writer, src io.Reader) (written int64, err error) {
	bufPtr := copyBufferPool.Get().(*[]byte)
	defer copyBufferPool.Put(bufPtr)
	return io.CopyBuffer(onlyWriter{dst}, onlyReader{src}, *bufPtr)
}
