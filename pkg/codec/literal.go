package codec

import "strconv"

// Escaper supplies the backend-specific escape routines a PackedValue
// needs to become a safe SQL literal: each adapter implements
// this according to its own quoting rules.
type Escaper interface {
	EscapeBytes(b []byte) string
	EscapeString(s string) string
	BoolLiteral(b bool) string
}

// SQLLiteral renders v as an embeddable SQL literal per the backend's
// escaping policy: nil -> NULL, bool -> the backend's literal, integers ->
// decimal, raw-bytes -> the backend's escaped binary literal, strings ->
// the backend's escaped quoted literal.
func SQLLiteral(v PackedValue, esc Escaper) string {
	switch v.Kind {
	case KindNil:
		return "NULL"
	case KindBool:
		return esc.BoolLiteral(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBytes:
		return esc.EscapeBytes(v.Bytes)
	case KindString:
		return esc.EscapeString(v.Str)
	default:
		return "NULL"
	}
}
