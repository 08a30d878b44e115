package client

import (
	"sync"
	"sync/atomic"
)

// maxPooledArena is the largest buffer returned to the pool; rows with
// bigger values allocate a fresh arena next time.
const maxPooledArena = 1 << 20

// arena holds the column buffers of one row. Every value is a sub-slice of
// buf whose capacity equals its length. NULL values are nil.
type arena struct {
	buf  []byte
	cols [][]byte
}

var (
	arenaPool = sync.Pool{
		New: func() interface{} {
			return &arena{buf: make([]byte, 0, 4096), cols: make([][]byte, 0, 16)}
		},
	}

	// arenasInUse counts arenas acquired and not yet released.
	arenasInUse atomic.Int64
)

// acquireArena takes an empty arena from the pool.
func acquireArena() *arena {
	a := arenaPool.Get().(*arena)
	a.buf = a.buf[:0]
	a.cols = a.cols[:0]
	arenasInUse.Add(1)
	return a
}

// release returns the arena to the pool. The column slices must not be
// used afterwards.
func (a *arena) release() {
	arenasInUse.Add(-1)
	if cap(a.buf) > maxPooledArena {
		return
	}
	for i := range a.cols {
		a.cols[i] = nil
	}
	arenaPool.Put(a)
}

// copyRow copies the values of row into the arena and returns one buffer
// per field.
func (a *arena) copyRow(row Row) [][]byte {
	size := 0
	for _, f := range row {
		size += f.Len()
	}
	if cap(a.buf) < size {
		a.buf = make([]byte, 0, size)
	}

	for _, f := range row {
		if f.IsNull() {
			a.cols = append(a.cols, nil)
			continue
		}
		start := len(a.buf)
		a.buf = f.appendTo(a.buf)
		end := len(a.buf)
		a.cols = append(a.cols, a.buf[start:end:end])
	}
	return a.cols
}
