package transport

import "sync"

const maxDatagramSize = 65536

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, maxDatagramSize)
		return &buf
	},
}

// GetBuffer returns a reusable receive buffer from the pool, avoiding a
// fresh allocation on every Receive call.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a buffer obtained from GetBuffer back to the pool.
func PutBuffer(buf *[]byte) {
	bufferPool.Put(buf)
}
