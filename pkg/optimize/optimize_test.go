package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1024)
	assert.Equal(t, 1024, pool.Size())

	buf := pool.Get()
	assert.Len(t, buf, 1024)

	// Callers may reslice before returning the buffer.
	pool.Put(buf[:10])
	assert.Len(t, pool.Get(), 1024)
}

func TestBytePoolDropsUndersized(t *testing.T) {
	pool := NewBytePool(64)
	pool.Put(make([]byte, 8))
	assert.Len(t, pool.Get(), 64)
}

func BenchmarkBytePool(b *testing.B) {
	pool := NewBytePool(64 * 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf[0] = byte(i)
		pool.Put(buf)
	}
}
