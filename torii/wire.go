// Package torii is the node's ingress gateway: a connection-oriented
// request/response server matching spec.md §4.1's three URIs
// (/instruction, /query, /block). Its shape is grounded in the teacher
// repo's rpc/server.go (bind address, per-request dispatch, bounded body)
// fused with network/peer.go's length-prefixed framing, since spec.md's
// external interface is "(uri: string, payload: bytes)" rather than
// rpc.Handler's JSON-RPC 2.0 method envelope.
package torii

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxFrameLen bounds any single length-prefixed frame, mirroring the
// teacher's network.Peer 32 MiB safety limit against a malicious or
// corrupt length prefix.
const maxFrameLen = 32 * 1024 * 1024

// writeFrame writes data as a 4-byte big-endian length prefix followed by
// its bytes, the framing idiom network.Peer.Send uses for P2P messages.
func writeFrame(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readFrame reads one length-prefixed frame, the mirror of writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("torii: frame of %d bytes exceeds %d byte limit", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ResponseKind discriminates the three response shapes spec.md §6 defines:
// {Ok(bytes), EmptyOk, InternalError}.
type ResponseKind byte

const (
	RespOK ResponseKind = iota
	RespEmptyOK
	RespInternalError
)

// wireRequest is one (uri, payload) request, per spec.md §6's external
// interface.
type wireRequest struct {
	URI     string
	Payload []byte
}

func writeRequest(w io.Writer, req wireRequest) error {
	if err := writeFrame(w, []byte(req.URI)); err != nil {
		return err
	}
	return writeFrame(w, req.Payload)
}

func readRequest(r io.Reader) (wireRequest, error) {
	uri, err := readFrame(r)
	if err != nil {
		return wireRequest{}, err
	}
	payload, err := readFrame(r)
	if err != nil {
		return wireRequest{}, err
	}
	return wireRequest{URI: string(uri), Payload: payload}, nil
}

// wireResponse is the framed reply: a one-byte kind tag followed by a
// length-prefixed data frame (the result bytes for RespOK, the error
// message for RespInternalError, empty for RespEmptyOK).
type wireResponse struct {
	Kind ResponseKind
	Data []byte
}

func writeResponse(w io.Writer, resp wireResponse) error {
	if _, err := w.Write([]byte{byte(resp.Kind)}); err != nil {
		return err
	}
	return writeFrame(w, resp.Data)
}

func readResponse(r io.Reader) (wireResponse, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return wireResponse{}, err
	}
	data, err := readFrame(r)
	if err != nil {
		return wireResponse{}, err
	}
	return wireResponse{Kind: ResponseKind(kindByte[0]), Data: data}, nil
}
