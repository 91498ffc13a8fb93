package codec

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Verb identifies a wire command: a small unsigned integer in 0..255.
type Verb uint8

// EndOfRows is the zero-length-array sentinel that terminates a streamed
// row response.
var EndOfRows = Row{}

// Encoder writes the streaming concatenation of commands: no framing
// beyond each value's own length, so a Flush after every logical
// response is the caller's responsibility.
type Encoder struct {
	enc *msgpack.Encoder
	w   io.Writer
}

// NewEncoder wraps an output stream (one side of the pipe).
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: msgpack.NewEncoder(w), w: w}
}

// WriteCommand writes a full `array(1+k)` command: the verb followed by
// its arguments, encoded positionally. Each argument's Go type determines
// its wire shape: a PackedValue, a ColumnValues/Row (key/row array), a
// []byte (hash), a string, or an integer are all valid argument types.
func (e *Encoder) WriteCommand(verb Verb, args ...interface{}) error {
	if err := e.enc.EncodeArrayLen(1 + len(args)); err != nil {
		return err
	}
	if err := e.enc.EncodeUint8(uint8(verb)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := e.enc.Encode(arg); err != nil {
			return err
		}
	}
	return nil
}

// WriteRows streams a slice of rows as individual row arrays terminated
// by the EndOfRows sentinel (a zero-length array).
func (e *Encoder) WriteRows(rows []Row) error {
	for _, row := range rows {
		if err := e.enc.Encode(row); err != nil {
			return err
		}
	}
	return e.enc.Encode(EndOfRows)
}

// Flush flushes any buffering on the underlying writer, if it supports
// it. A flush is required after every complete response so the peer on
// the other end of the pipe isn't left waiting on buffered bytes.
func (e *Encoder) Flush() error {
	if f, ok := e.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Decoder reads the same streaming concatenation of commands.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder wraps an input stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: msgpack.NewDecoder(r)}
}

// ReadCommandHeader reads the verb and reports how many arguments follow;
// the caller then knows, from the verb, what to decode each argument as.
func (d *Decoder) ReadCommandHeader() (verb Verb, argCount int, err error) {
	n, err := d.dec.DecodeArrayLen()
	if err != nil {
		return 0, 0, err
	}
	if n < 1 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	v, err := d.dec.DecodeUint8()
	if err != nil {
		return 0, 0, err
	}
	return Verb(v), n - 1, nil
}

// ReadKey reads one key/row argument (an array of PackedValue).
func (d *Decoder) ReadKey() (ColumnValues, error) {
	var key ColumnValues
	if err := d.dec.Decode(&key); err != nil {
		return nil, err
	}
	return key, nil
}

// ReadRow reads one row argument, or returns ok=false if it is the
// end-of-stream sentinel (a zero-length array).
func (d *Decoder) ReadRow() (row Row, ok bool, err error) {
	if err := d.dec.Decode(&row); err != nil {
		return nil, false, err
	}
	return row, len(row) > 0, nil
}

// ReadBytes reads a raw-bytes argument (a hash digest).
func (d *Decoder) ReadBytes() ([]byte, error) {
	return d.dec.DecodeBytes()
}

// ReadString reads a string argument (e.g. a table name or snapshot id).
func (d *Decoder) ReadString() (string, error) {
	return d.dec.DecodeString()
}

// DecodeValue reads one argument into an arbitrary Go value (e.g. the
// serialized Database schema command carries a model.Database this way;
// the codec package itself has no reason to know that type).
func (d *Decoder) DecodeValue(v interface{}) error {
	return d.dec.Decode(v)
}

// ReadUint reads an unsigned integer argument (e.g. a protocol version or
// row-count target).
func (d *Decoder) ReadUint() (uint64, error) {
	return d.dec.DecodeUint64()
}
