package client

import (
	"fmt"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

type binderState int

const (
	unbound binderState = iota
	bound
)

// binder tracks whether a session's columns have been bound. The first row
// binds every column; later rows repoint the bound buffers.
type binder struct {
	state binderState
}

// apply hands the row's column buffers to the handle.
func (b *binder) apply(h transport.Handle, cols [][]byte) error {
	if b.state == unbound {
		return b.bind(h, cols)
	}
	return b.repoint(h, cols)
}

func (b *binder) bind(h transport.Handle, cols [][]byte) error {
	if b.state == bound {
		return fmt.Errorf("columns are already bound")
	}
	for i, col := range cols {
		if err := h.Bind(i+1, col, columnLength(col)); err != nil {
			return fmt.Errorf("bind column %d: %w", i+1, err)
		}
	}
	return nil
}

func (b *binder) repoint(h transport.Handle, cols [][]byte) error {
	if b.state == unbound {
		return fmt.Errorf("columns are not bound")
	}
	for i, col := range cols {
		if err := h.ColPtr(i+1, col); err != nil {
			return fmt.Errorf("repoint column %d: %w", i+1, err)
		}
		if err := h.ColLen(i+1, columnLength(col)); err != nil {
			return fmt.Errorf("set length of column %d: %w", i+1, err)
		}
	}
	return nil
}

// markBound records that the handle accepted a row with bound columns.
func (b *binder) markBound() {
	b.state = bound
}

func (b *binder) reset() {
	b.state = unbound
}

func columnLength(col []byte) int {
	if col == nil {
		return protocol.NullLength
	}
	return len(col)
}
