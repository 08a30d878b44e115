// Package mapper converts Go values into bulk copy rows. Every non-NULL
// value is sent as its canonical text; the server converts the text to the
// destination column type.
package mapper

import (
	"context"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/dan-strohschein/bcp-driver/client"
)

// DefaultTimeFormat is accepted by datetime2, datetimeoffset and timestamptz
// columns.
const DefaultTimeFormat = "2006-01-02 15:04:05.999999999Z07:00"

// Sender is the part of a connection SendValues needs.
type Sender interface {
	Send(ctx context.Context, row client.Row) error
}

// RowMapper handles value to text coercion for outgoing rows.
type RowMapper struct {
	// TimeFormat formats time.Time values.
	TimeFormat string

	// TrueText and FalseText are sent for booleans.
	TrueText  string
	FalseText string
}

// NewRowMapper creates a mapper that sends booleans as 1 and 0.
func NewRowMapper() *RowMapper {
	return &RowMapper{
		TimeFormat: DefaultTimeFormat,
		TrueText:   "1",
		FalseText:  "0",
	}
}

var defaultMapper = NewRowMapper()

// ToField converts v with the default mapper.
func ToField(column int, v interface{}) (client.Field, error) {
	return defaultMapper.ToField(column, v)
}

// ToRow converts values with the default mapper.
func ToRow(values ...interface{}) (client.Row, error) {
	return defaultMapper.ToRow(values...)
}

// SendValues converts values with the default mapper and sends them as one
// row.
func SendValues(ctx context.Context, s Sender, values ...interface{}) error {
	return defaultMapper.SendValues(ctx, s, values...)
}

// ToRow converts every value; column numbers in errors are 1-indexed.
func (m *RowMapper) ToRow(values ...interface{}) (client.Row, error) {
	row := make(client.Row, len(values))
	for i, v := range values {
		f, err := m.ToField(i+1, v)
		if err != nil {
			return nil, err
		}
		row[i] = f
	}
	return row, nil
}

// SendValues converts values and sends them as one row.
func (m *RowMapper) SendValues(ctx context.Context, s Sender, values ...interface{}) error {
	row, err := m.ToRow(values...)
	if err != nil {
		return err
	}
	return s.Send(ctx, row)
}

// ToField converts one value. nil and nil pointers are NULL.
func (m *RowMapper) ToField(column int, v interface{}) (client.Field, error) {
	switch val := v.(type) {
	case nil:
		return client.Null(), nil
	case client.Field:
		return val, nil
	case string:
		return client.Text(val), nil
	case []byte:
		if val == nil {
			return client.Null(), nil
		}
		return client.Bytes(val), nil
	case bool:
		if val {
			return client.Text(m.TrueText), nil
		}
		return client.Text(m.FalseText), nil
	case int:
		return client.Text(strconv.FormatInt(int64(val), 10)), nil
	case int8:
		return client.Text(strconv.FormatInt(int64(val), 10)), nil
	case int16:
		return client.Text(strconv.FormatInt(int64(val), 10)), nil
	case int32:
		return client.Text(strconv.FormatInt(int64(val), 10)), nil
	case int64:
		return client.Text(strconv.FormatInt(val, 10)), nil
	case uint:
		return client.Text(strconv.FormatUint(uint64(val), 10)), nil
	case uint8:
		return client.Text(strconv.FormatUint(uint64(val), 10)), nil
	case uint16:
		return client.Text(strconv.FormatUint(uint64(val), 10)), nil
	case uint32:
		return client.Text(strconv.FormatUint(uint64(val), 10)), nil
	case uint64:
		return client.Text(strconv.FormatUint(val, 10)), nil
	case float32:
		return client.Text(strconv.FormatFloat(float64(val), 'g', -1, 32)), nil
	case float64:
		return client.Text(strconv.FormatFloat(val, 'g', -1, 64)), nil
	case time.Time:
		return client.Text(val.Format(m.TimeFormat)), nil
	case time.Duration:
		return client.Text(strconv.FormatInt(int64(val), 10)), nil
	case driver.Valuer:
		if isNilPointer(v) {
			return client.Null(), nil
		}
		inner, err := val.Value()
		if err != nil {
			return client.Field{}, client.ErrConversion(column, v, err)
		}
		if _, again := inner.(driver.Valuer); again {
			return client.Field{}, client.ErrConversion(column, v, fmt.Errorf("Value returned another driver.Valuer"))
		}
		return m.ToField(column, inner)
	case fmt.Stringer:
		if isNilPointer(v) {
			return client.Null(), nil
		}
		return client.Text(val.String()), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return client.Null(), nil
		}
		return m.ToField(column, rv.Elem().Interface())
	case reflect.String:
		return client.Text(rv.String()), nil
	case reflect.Bool:
		return m.ToField(column, rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return m.ToField(column, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return m.ToField(column, rv.Uint())
	case reflect.Float32, reflect.Float64:
		return m.ToField(column, rv.Float())
	}
	return client.Field{}, client.ErrConversion(column, v, nil)
}

func isNilPointer(v interface{}) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
