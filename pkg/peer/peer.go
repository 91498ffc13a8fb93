// Package peer implements the peer worker: the command loop each side of
// a replication session runs over its pair of byte streams. FromWorker
// serves the read-only source side; ToWorker drives the destination
// side, requesting schema and row-hash ranges through pkg/syncengine and
// applying rows locally.
//
// HASH_NEXT/HASH_CURR/ROWS_CURR/ROWS_NEXT all carry their range
// explicitly (table, prev_key, and either a row-count target or a
// last_key) rather than relying on server-side cursor state left over
// from OPEN, so a single Remote interface (pkg/syncengine.Remote) can
// describe every verb uniformly. OPEN becomes a pure reset/ack; the sync
// engine issues the first HASH_NEXT as an explicit follow-up call
// instead of folding it into OPEN's reply.
package peer

import (
	"io"

	"github.com/koba/rangesync/pkg/codec"
)

const (
	VerbQuit            codec.Verb = 0
	VerbOpen            codec.Verb = 1
	VerbRowsCurr        codec.Verb = 2
	VerbRowsNext        codec.Verb = 3
	VerbHashCurr        codec.Verb = 4
	VerbHashNext        codec.Verb = 5
	VerbProtocol        codec.Verb = 32
	VerbExportSnapshot  codec.Verb = 33
	VerbImportSnapshot  codec.Verb = 34
	VerbUnholdSnapshot  codec.Verb = 35
	VerbWithoutSnapshot codec.Verb = 36
	VerbSchema          codec.Verb = 37
)

// ProtocolVersion is the highest protocol version this engine speaks.
const ProtocolVersion = 1

// Pipe is the opaque pair of byte streams a session runs over: one
// direction read, the other written. Closing either end is the sole
// cancellation mechanism.
type Pipe struct {
	In  io.Reader
	Out io.Writer
}

// conn bundles the codec encoder/decoder for one side of a Pipe and
// centralizes the flush-after-every-logical-response rule.
type conn struct {
	enc *codec.Encoder
	dec *codec.Decoder
}

func newConn(p Pipe) *conn {
	return &conn{enc: codec.NewEncoder(p.Out), dec: codec.NewDecoder(p.In)}
}

func (c *conn) respond(verb codec.Verb, args ...interface{}) error {
	if err := c.enc.WriteCommand(verb, args...); err != nil {
		return err
	}
	return c.enc.Flush()
}

func (c *conn) send(verb codec.Verb, args ...interface{}) error {
	return c.respond(verb, args...)
}
