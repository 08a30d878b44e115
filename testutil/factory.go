package testutil

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/bcp-driver/client"
)

// ColumnFunc produces the value of one column for the i-th row.
type ColumnFunc func(i int) client.Field

// Option is a function that modifies factory behavior.
type Option func(*RowFactory)

// RowFactory builds rows of a fixed width from per-column generators.
type RowFactory struct {
	columns []ColumnFunc
}

// NewRowFactory creates a factory whose columns default to Sequence.
func NewRowFactory(width int, options ...Option) *RowFactory {
	f := &RowFactory{columns: make([]ColumnFunc, width)}
	for i := range f.columns {
		f.columns[i] = Sequence(fmt.Sprintf("c%d_", i+1))
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// WithColumn replaces the generator of a 1-indexed column.
func WithColumn(column int, fn ColumnFunc) Option {
	return func(f *RowFactory) {
		if column >= 1 && column <= len(f.columns) {
			f.columns[column-1] = fn
		}
	}
}

// WithNullEvery makes every n-th row (starting with row 0) NULL in column.
func WithNullEvery(column, n int) Option {
	return func(f *RowFactory) {
		if column < 1 || column > len(f.columns) || n <= 0 {
			return
		}
		inner := f.columns[column-1]
		f.columns[column-1] = func(i int) client.Field {
			if i%n == 0 {
				return client.Null()
			}
			return inner(i)
		}
	}
}

// Width returns the number of columns.
func (f *RowFactory) Width() int {
	return len(f.columns)
}

// Build creates the i-th row.
func (f *RowFactory) Build(i int) client.Row {
	row := make(client.Row, len(f.columns))
	for c, fn := range f.columns {
		row[c] = fn(i)
	}
	return row
}

// BuildList creates rows 0 through count-1.
func (f *RowFactory) BuildList(count int) []client.Row {
	rows := make([]client.Row, count)
	for i := range rows {
		rows[i] = f.Build(i)
	}
	return rows
}

// Sequence yields prefix followed by the row index.
func Sequence(prefix string) ColumnFunc {
	return func(i int) client.Field {
		return client.Text(fmt.Sprintf("%s%d", prefix, i))
	}
}

// Constant yields the same text for every row.
func Constant(s string) ColumnFunc {
	return func(int) client.Field {
		return client.Text(s)
	}
}

// Empty yields the empty string, which is not NULL.
func Empty() ColumnFunc {
	return Constant("")
}

// Random yields random alphanumeric text of length n.
func Random(n int) ColumnFunc {
	return func(int) client.Field {
		return client.Text(RandomString(n))
	}
}

var idSequence uint64

// SequenceID generates unique IDs.
func SequenceID() int64 {
	return int64(atomic.AddUint64(&idSequence, 1))
}

// Random generators for realistic test data

var rng = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomString generates a random string of the specified length.
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}

// RandomInt generates a random integer between min and max (inclusive).
func RandomInt(min, max int) int {
	return min + rng.Intn(max-min+1)
}
