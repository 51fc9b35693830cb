package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool is a thread-safe pool of byte buffers reused across streaming
// transfers, backed by valyala/bytebufferpool. Every in-flight transfer
// borrows one copy buffer for the duration of the stream and returns it
// on completion, keeping steady-state allocation near zero regardless
// of client churn.
type Pool struct {
	pool       *bytebufferpool.Pool
	bufferSize int
}

// NewPool creates a Pool whose buffers are grown to at least bufferSize
// bytes before being handed out.
func NewPool(bufferSize int) *Pool {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	return &Pool{
		bufferSize: bufferSize,
		pool:       &bytebufferpool.Pool{},
	}
}

// Get retrieves a buffer sized to the pool's configured capacity. The
// returned buffer's B slice has length bufferSize and is safe for use
// as a read/copy scratch area.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	buf.Reset()
	if cap(buf.B) < p.bufferSize {
		buf.B = make([]byte, p.bufferSize)
	} else {
		buf.B = buf.B[:p.bufferSize]
	}
	return buf
}

// Put returns a buffer to the pool for reuse.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}

// Size returns the configured buffer size in bytes.
func (p *Pool) Size() int {
	return p.bufferSize
}
