package client

type fieldKind uint8

const (
	kindNull fieldKind = iota
	kindText
	kindBytes
)

// Field is one value of a row: SQL NULL or a text value. The zero Field
// is NULL.
type Field struct {
	kind  fieldKind
	text  string
	bytes []byte
}

// Row is an ordered list of fields, one per destination column.
type Row []Field

// Null returns a NULL field.
func Null() Field {
	return Field{kind: kindNull}
}

// Text returns a field holding s. An empty string is a value, not NULL.
func Text(s string) Field {
	return Field{kind: kindText, text: s}
}

// Bytes returns a field holding the text in b. A nil or empty b is an
// empty value, not NULL. b is copied when the row is sent.
func Bytes(b []byte) Field {
	return Field{kind: kindBytes, bytes: b}
}

// IsNull reports whether the field is SQL NULL.
func (f Field) IsNull() bool {
	return f.kind == kindNull
}

// Len returns the byte length of the value; 0 for NULL.
func (f Field) Len() int {
	switch f.kind {
	case kindText:
		return len(f.text)
	case kindBytes:
		return len(f.bytes)
	default:
		return 0
	}
}

// String returns the text of the field, or "NULL".
func (f Field) String() string {
	switch f.kind {
	case kindText:
		return f.text
	case kindBytes:
		return string(f.bytes)
	default:
		return "NULL"
	}
}

// appendTo appends the value bytes to dst.
func (f Field) appendTo(dst []byte) []byte {
	switch f.kind {
	case kindText:
		return append(dst, f.text...)
	case kindBytes:
		return append(dst, f.bytes...)
	default:
		return dst
	}
}

// TextRow builds a row of non-null text fields.
func TextRow(values ...string) Row {
	row := make(Row, len(values))
	for i, v := range values {
		row[i] = Text(v)
	}
	return row
}

// NullableRow builds a row where nil pointers are NULL.
func NullableRow(values ...*string) Row {
	row := make(Row, len(values))
	for i, v := range values {
		if v == nil {
			row[i] = Null()
		} else {
			row[i] = Text(*v)
		}
	}
	return row
}
