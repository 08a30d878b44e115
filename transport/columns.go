package transport

import (
	"fmt"
)

// Column is the current binding state of one bulk-copy column.
type Column struct {
	Bound  bool
	Data   []byte
	Length int
}

// IsNull reports whether the column currently holds SQL NULL.
func (c Column) IsNull() bool {
	return c.Length < 0
}

// Columns tracks bind/colptr/collen calls for a bulk-copy table. Drivers
// use it to implement the buffer side of Handle.
type Columns struct {
	cols []Column
}

// Reset forgets every binding.
func (c *Columns) Reset() {
	c.cols = nil
}

// Len returns the highest bound column position.
func (c *Columns) Len() int {
	return len(c.cols)
}

// Bind registers data and length for a 1-indexed column. Binding column 1
// starts a new layout and forgets the other columns.
func (c *Columns) Bind(column int, data []byte, length int) error {
	if column < 1 {
		return fmt.Errorf("column position %d out of range", column)
	}
	if column == 1 {
		c.cols = c.cols[:0]
	}
	for len(c.cols) < column {
		c.cols = append(c.cols, Column{})
	}
	c.cols[column-1] = Column{Bound: true, Data: data, Length: length}
	return nil
}

// SetPtr repoints a bound column.
func (c *Columns) SetPtr(column int, data []byte) error {
	col, err := c.bound(column)
	if err != nil {
		return err
	}
	col.Data = data
	return nil
}

// SetLen sets the current length of a bound column.
func (c *Columns) SetLen(column int, length int) error {
	col, err := c.bound(column)
	if err != nil {
		return err
	}
	col.Length = length
	return nil
}

// Get returns the state of a 1-indexed column.
func (c *Columns) Get(column int) (Column, bool) {
	if column < 1 || column > len(c.cols) {
		return Column{}, false
	}
	return c.cols[column-1], true
}

// Snapshot copies the current values of every column. NULL columns are
// nil; empty values are non-nil empty slices. Every column up to Len must
// be bound.
func (c *Columns) Snapshot() ([][]byte, error) {
	row := make([][]byte, len(c.cols))
	for i, col := range c.cols {
		if !col.Bound {
			return nil, fmt.Errorf("column %d is not bound", i+1)
		}
		if col.IsNull() {
			continue
		}
		n := col.Length
		if n > len(col.Data) {
			return nil, fmt.Errorf("column %d length %d exceeds buffer of %d bytes", i+1, n, len(col.Data))
		}
		v := make([]byte, n)
		copy(v, col.Data[:n])
		row[i] = v
	}
	return row, nil
}

func (c *Columns) bound(column int) (*Column, error) {
	if column < 1 || column > len(c.cols) || !c.cols[column-1].Bound {
		return nil, fmt.Errorf("column %d is not bound", column)
	}
	return &c.cols[column-1], nil
}
