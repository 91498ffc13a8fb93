// Package apperr defines the closed set of error kinds the replication
// engine raises. Each kind is a distinct type so callers can
// discriminate with errors.As instead of string matching.
package apperr

import "fmt"

// ConnectError wraps a failure to establish a backend connection. Fatal at
// session start.
type ConnectError struct {
	Backend string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError covers a bad first verb, an unknown verb, or malformed
// arguments on the wire. Fatal.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// SchemaMismatch reports an unreconcilable column-level or key-level
// difference the schema matcher cannot resolve by drop/add alone. Fatal;
// aborts the session before any row sync.
type SchemaMismatch struct {
	Table   string
	Message string
}

func (e *SchemaMismatch) Error() string {
	return fmt.Sprintf("schema mismatch on table %s: %s", e.Table, e.Message)
}

// DriverError wraps any SQL execution failure, carrying the SQL text that
// failed alongside the driver's own message.
type DriverError struct {
	SQL string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error executing %q: %v", e.SQL, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// SyncError reports an internal invariant violation in the divide-and-
// conquer engine. Fatal, written to standard error once by the peer
// worker.
type SyncError struct {
	Reason string
}

func (e *SyncError) Error() string { return "sync error: " + e.Reason }
