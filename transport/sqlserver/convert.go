package sqlserver

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnInfo describes one destination column.
type ColumnInfo struct {
	Name string
	Type string
}

// convertRow turns the snapshot of bound text values into the Go values
// go-mssqldb's bulk copy expects for each destination column type. NULL
// values are nil. It also returns the number of bytes in the row.
func convertRow(row [][]byte, schema []ColumnInfo) ([]interface{}, int, error) {
	args := make([]interface{}, len(row))
	size := 0
	for i, v := range row {
		size += len(v)
		if v == nil {
			continue
		}
		arg, err := ConvertValue(string(v), schema[i].Type)
		if err != nil {
			return nil, 0, fmt.Errorf("column %d (%s): %w", i+1, schema[i].Name, err)
		}
		args[i] = arg
	}
	return args, size, nil
}

// ConvertValue parses text for a column of the given SQL Server type name.
// Decimal, money, date and time types travel as text and are parsed by the
// bulk copy encoder.
func ConvertValue(text, typeName string) (interface{}, error) {
	switch strings.ToUpper(typeName) {
	case "TINYINT", "SMALLINT", "INT", "BIGINT":
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", text)
		}
		return n, nil
	case "REAL", "FLOAT":
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", text)
		}
		return f, nil
	case "BIT":
		switch strings.ToLower(strings.TrimSpace(text)) {
		case "1", "true", "t", "yes", "y":
			return true, nil
		case "0", "false", "f", "no", "n":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bit %q", text)
	case "BINARY", "VARBINARY", "IMAGE":
		return []byte(text), nil
	default:
		return text, nil
	}
}
