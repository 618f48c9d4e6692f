// Package wsapi implements the binary WebSocket wire framing used by the
// storage gateway's streaming protocol: a 4-byte big-endian header-size
// prefix, a CBOR-encoded header map, and a trailing raw payload, grounded on
// original_source/src/platform_storage_api/api.py's _ws_send/_handle_websocket
// (which uses the `cbor`/`struct` modules the same way).
package wsapi

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxReadSize bounds a single READ op's requested size (spec.md §4.E).
const MaxReadSize = 16 * 1024 * 1024

// MaxMessageSize bounds the entire encoded WebSocket message (header + data),
// giving CBOR overhead and the read payload itself room to fit.
const MaxMessageSize = MaxReadSize + 65536 + 100

// Op names both client requests and server responses carry in their "op"/
// "rop" header field.
const (
	OpAck     = "ACK"
	OpError   = "ERROR"
	OpRead    = "READ"
	OpStat    = "STAT"
	OpList    = "LIST"
	OpCreate  = "CREATE"
	OpWrite   = "WRITE"
	OpMkdirs  = "MKDIRS"
)

// Request is one decoded client frame: the CBOR header plus any trailing raw
// payload bytes (present for WRITE).
type Request struct {
	Op      string
	ID      int64
	Path    string
	Offset  int64
	Size    int64
	Payload []byte
}

type requestHeader struct {
	Op     string `cbor:"op"`
	ID     int64  `cbor:"id"`
	Path   string `cbor:"path"`
	Offset int64  `cbor:"offset"`
	Size   int64  `cbor:"size"`
}

// DecodeRequest splits a raw binary WebSocket message into its CBOR header
// and trailing payload, per the 4-byte-header-size-prefix framing.
func DecodeRequest(raw []byte) (Request, error) {
	if len(raw) < 4 {
		return Request{}, fmt.Errorf("wsapi: frame shorter than the 4-byte header-size prefix")
	}
	hsize := binary.BigEndian.Uint32(raw[:4])
	if int(hsize) > len(raw) || hsize < 4 {
		return Request{}, fmt.Errorf("wsapi: header size %d out of bounds for %d-byte frame", hsize, len(raw))
	}
	var hdr requestHeader
	if err := cbor.Unmarshal(raw[4:hsize], &hdr); err != nil {
		return Request{}, fmt.Errorf("wsapi: decoding header: %w", err)
	}
	return Request{
		Op:      hdr.Op,
		ID:      hdr.ID,
		Path:    hdr.Path,
		Offset:  hdr.Offset,
		Size:    hdr.Size,
		Payload: raw[hsize:],
	}, nil
}

// EncodeAck renders a successful response frame: {"rop","rid","timestamp",
// ...extra fields}, with data appended after the header as raw bytes.
func EncodeAck(op string, reqID int64, now int64, extra map[string]any, data []byte) ([]byte, error) {
	fields := map[string]any{"op": OpAck, "rop": op, "rid": reqID, "timestamp": now}
	for k, v := range extra {
		fields[k] = v
	}
	return encode(fields, data)
}

// EncodeError renders a failure response frame. errnoName, when non-empty,
// is the POSIX errno symbolic name (e.g. "ENOENT") the way api.py's
// `errorcode` table renders it.
func EncodeError(op string, reqID int64, now int64, message, errnoName string) ([]byte, error) {
	fields := map[string]any{"op": OpError, "rop": op, "rid": reqID, "timestamp": now, "error": message}
	if errnoName != "" {
		fields["errno"] = errnoName
	}
	return encode(fields, nil)
}

// EncodeBareError renders a failure frame with no "rop"/"rid" fields at all,
// for failures that occur before a request's op/id could even be decoded
// (e.g. a malformed header), matching api.py's _ws_send(ERROR, {"error": ...}).
func EncodeBareError(message string) ([]byte, error) {
	return encode(map[string]any{"op": OpError, "error": message}, nil)
}

func encode(fields map[string]any, data []byte) ([]byte, error) {
	header, err := cbor.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("wsapi: encoding header: %w", err)
	}
	hsize := uint32(len(header) + 4)
	out := make([]byte, 4, int(hsize)+len(data))
	binary.BigEndian.PutUint32(out, hsize)
	out = append(out, header...)
	out = append(out, data...)
	return out, nil
}
