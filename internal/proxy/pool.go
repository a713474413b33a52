package proxy

import "sync"

// bufferPool recycles fixed-size byte slices. Splice only touches them when
// io.CopyBuffer cannot hand the copy to the kernel (e.g. a wrapped conn);
// hold mode reads into one for the life of the connection.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

// Get returns a pointer so the same *[]byte can be handed back to Put
// without another allocation.
func (p *bufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) Put(b *[]byte) {
	p.pool.Put(b)
}
