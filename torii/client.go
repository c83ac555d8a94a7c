package torii

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// dialTimeout bounds how long a client waits to establish a connection to
// a peer's Torii listener before giving up, mirroring
// network.Peer.Receive's 30-second read deadline idiom applied to the
// connect side instead.
const dialTimeout = 5 * time.Second

// Do dials addr, sends a single (uri, payload) request, and returns the
// decoded response. One request per connection, matching the server's
// contract. Used both by external clients submitting transactions/queries
// and by the transport package relaying Sumeragi's peer messages.
func Do(addr string, tlsCfg *tls.Config, uri string, payload []byte) (ResponseKind, []byte, error) {
	var conn net.Conn
	var err error
	d := net.Dialer{Timeout: dialTimeout}
	if tlsCfg != nil {
		conn, err = tls.DialWithDialer(&d, "tcp", addr, tlsCfg)
	} else {
		conn, err = d.Dial("tcp", addr)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("torii: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := writeRequest(conn, wireRequest{URI: uri, Payload: payload}); err != nil {
		return 0, nil, fmt.Errorf("torii: write request to %s: %w", addr, err)
	}
	resp, err := readResponse(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("torii: read response from %s: %w", addr, err)
	}
	if resp.Kind == RespInternalError {
		return resp.Kind, resp.Data, fmt.Errorf("torii: %s: %s", addr, string(resp.Data))
	}
	return resp.Kind, resp.Data, nil
}
