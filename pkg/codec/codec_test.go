package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackedValueRoundTrip(t *testing.T) {
	cases := []PackedValue{
		Nil(),
		Bool(true),
		Bool(false),
		Int(-12345),
		Uint(98765),
		Float(3.25),
		Bytes([]byte{0x00, 0x27, 0x5C, 0xFF}),
		String("hello, world"),
		String(""),
	}
	for _, v := range cases {
		data, err := Encode(v)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.True(t, v.Equal(got), "round-trip mismatch for kind %d", v.Kind)
	}
}

func TestColumnValuesCompareLexicographic(t *testing.T) {
	a := ColumnValues{Int(1), String("a")}
	b := ColumnValues{Int(1), String("b")}
	c := ColumnValues{Int(2), String("a")}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, -1, a.Compare(c))
}

func TestStreamCommandRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	key := ColumnValues{Int(42)}
	require.NoError(t, enc.WriteCommand(Verb(5), key, []byte("digest"), uint64(100)))

	dec := NewDecoder(&buf)
	verb, argCount, err := dec.ReadCommandHeader()
	require.NoError(t, err)
	assert.Equal(t, Verb(5), verb)
	assert.Equal(t, 3, argCount)

	gotKey, err := dec.ReadKey()
	require.NoError(t, err)
	assert.True(t, key.Equal(gotKey))

	gotHash, err := dec.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("digest"), gotHash)

	gotCount, err := dec.ReadUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), gotCount)
}

func TestStreamRowsEndSentinel(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	rows := []Row{
		{Int(1), String("a")},
		{Int(2), String("b")},
	}
	require.NoError(t, enc.WriteRows(rows))

	dec := NewDecoder(&buf)
	var got []Row
	for {
		row, ok, err := dec.ReadRow()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row)
	}
	require.Len(t, got, 2)
	assert.True(t, rows[0].Equal(got[0]))
	assert.True(t, rows[1].Equal(got[1]))
}

func TestSQLLiteralEncoding(t *testing.T) {
	esc := testEscaper{}
	assert.Equal(t, "NULL", SQLLiteral(Nil(), esc))
	assert.Equal(t, "TRUE", SQLLiteral(Bool(true), esc))
	assert.Equal(t, "42", SQLLiteral(Int(42), esc))
	assert.Equal(t, "'it''s'", SQLLiteral(String("it's"), esc))
}

type testEscaper struct{}

func (testEscaper) EscapeBytes(b []byte) string  { return "X'" + string(b) + "'" }
func (testEscaper) EscapeString(s string) string {
	out := ""
	for _, r := range s {
		if r == '\'' {
			out += "''"
		} else {
			out += string(r)
		}
	}
	return "'" + out + "'"
}
func (testEscaper) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}
