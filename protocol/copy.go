package protocol

// COPY text format framing bytes.
const (
	CopyDelimiter byte = '\t'
	CopyRowEnd    byte = '\n'
	copyEscape    byte = '\\'
)

// CopyNull is the COPY text representation of SQL NULL.
var CopyNull = []byte(`\N`)

// AppendCopyRow appends one row in COPY text format to dst. A nil column is
// written as NULL; an empty non-nil column is an empty string.
func AppendCopyRow(dst []byte, columns [][]byte) []byte {
	for i, col := range columns {
		if i > 0 {
			dst = append(dst, CopyDelimiter)
		}
		if col == nil {
			dst = append(dst, CopyNull...)
			continue
		}
		dst = appendCopyText(dst, col)
	}
	return append(dst, CopyRowEnd)
}

// appendCopyText escapes backslash, tab, newline and carriage return.
func appendCopyText(dst, value []byte) []byte {
	// Fast path: nothing to escape
	needsEscape := false
	for _, b := range value {
		if b == copyEscape || b == '\t' || b == '\n' || b == '\r' {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return append(dst, value...)
	}

	for _, b := range value {
		switch b {
		case copyEscape:
			dst = append(dst, copyEscape, copyEscape)
		case '\t':
			dst = append(dst, copyEscape, 't')
		case '\n':
			dst = append(dst, copyEscape, 'n')
		case '\r':
			dst = append(dst, copyEscape, 'r')
		default:
			dst = append(dst, b)
		}
	}
	return dst
}
