package peer

import "github.com/koba/rangesync/pkg/apperr"

// handshakeServer reads the first command, which must be PROTOCOL
// carrying the caller's highest supported version, and replies with
// min(local, remote). Returns the negotiated version.
func handshakeServer(c *conn) (int, error) {
	verb, argc, err := c.dec.ReadCommandHeader()
	if err != nil {
		return 0, err
	}
	if verb != VerbProtocol || argc != 1 {
		return 0, &apperr.ProtocolError{Reason: "expected PROTOCOL as first command"}
	}
	remote, err := c.dec.ReadUint()
	if err != nil {
		return 0, err
	}
	version := negotiate(int(remote))
	if err := c.respond(VerbProtocol, uint64(version)); err != nil {
		return 0, err
	}
	return version, nil
}

// handshakeClient sends PROTOCOL with our highest supported version and
// reads back the negotiated version.
func handshakeClient(c *conn) (int, error) {
	if err := c.send(VerbProtocol, uint64(ProtocolVersion)); err != nil {
		return 0, err
	}
	verb, argc, err := c.dec.ReadCommandHeader()
	if err != nil {
		return 0, err
	}
	if verb != VerbProtocol || argc != 1 {
		return 0, &apperr.ProtocolError{Reason: "expected PROTOCOL handshake reply"}
	}
	negotiated, err := c.dec.ReadUint()
	if err != nil {
		return 0, err
	}
	return int(negotiated), nil
}

func negotiate(remoteVersion int) int {
	if remoteVersion < ProtocolVersion {
		return remoteVersion
	}
	return ProtocolVersion
}
