// Package wire implements the framed binary protocol spoken on the
// client-directory and directory-node links.
//
// Every message is a fixed-size little-endian header followed by an opaque
// payload of Header.PayloadLen bytes. The header carries the message type,
// the source and destination component identifiers, and a fixed-width name
// field used for filenames and identities. Payload bodies are XDR-encoded;
// see payloads.go for the concrete shapes.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Component identifiers carried in the Source and Dest header fields.
const (
	ComponentClient    uint16 = 1
	ComponentDirectory uint16 = 2
	ComponentNode      uint16 = 3
)

// MsgType identifies the operation a frame carries.
type MsgType uint16

// Message types. The numbering is part of the wire contract and must not be
// reordered.
const (
	MsgRegister         MsgType = 10 // node -> directory
	MsgAck              MsgType = 11
	MsgCreate           MsgType = 12
	MsgRead             MsgType = 14
	MsgDelete           MsgType = 16
	MsgError            MsgType = 18
	MsgReadRedirect     MsgType = 21 // directory -> client
	MsgRegisterClient   MsgType = 23
	MsgAddAccess        MsgType = 24
	MsgRemAccess        MsgType = 25
	MsgExec             MsgType = 26
	MsgWrite            MsgType = 27
	MsgStream           MsgType = 28
	MsgUndo             MsgType = 29
	MsgInfo             MsgType = 30
	MsgInfoResponse     MsgType = 31
	MsgList             MsgType = 32
	MsgListResponse     MsgType = 33
	MsgView             MsgType = 34
	MsgViewResponse     MsgType = 35
	MsgRegisterFile     MsgType = 36 // node -> directory, sync phase
	MsgRegisterComplete MsgType = 37
	MsgNodeDeadReport   MsgType = 38

	MsgCreateFolder MsgType = 40
	MsgMoveFile     MsgType = 41
	MsgMoveFolder   MsgType = 42
	MsgViewFolder   MsgType = 43

	// Directory -> node control messages.
	MsgInternalRead         MsgType = 100
	MsgInternalData         MsgType = 101
	MsgInternalGetMetadata  MsgType = 102
	MsgInternalMetadataResp MsgType = 103
	MsgInternalAddAccess    MsgType = 104
	MsgInternalRemAccess    MsgType = 105
	MsgInternalSetOwner     MsgType = 106
	MsgInternalSetFolder    MsgType = 107

	MsgCheckpoint      MsgType = 120
	MsgViewCheckpoint  MsgType = 121
	MsgRevert          MsgType = 122
	MsgListCheckpoints MsgType = 123

	MsgLocateFile     MsgType = 130
	MsgLocateResponse MsgType = 131
)

const (
	// MaxName is the width of the fixed name field in every header.
	MaxName = 256

	// MaxIdentity is the width of identity fields in payloads.
	MaxIdentity = 64

	// MaxACLEntries bounds the per-file access control list.
	MaxACLEntries = 10

	// headerSize is the encoded size of a Header: three u16, one u32 and
	// the name field.
	headerSize = 2 + 2 + 2 + 4 + MaxName

	// maxPayload bounds the payload length a reader will accept.
	maxPayload = 16 << 20
)

// View flags carried by MsgView and MsgViewFolder payloads.
const (
	ViewFlagAll  = 1 // -a: include files the caller cannot access
	ViewFlagLong = 2 // -l: long table with per-file statistics
)

// Header is the fixed preamble of every framed message.
type Header struct {
	Type       MsgType
	Source     uint16
	Dest       uint16
	PayloadLen uint32
	name       [MaxName]byte
}

// NewHeader builds a header with the name field set. Names longer than
// MaxName-1 bytes are truncated; the field is always NUL-terminated.
func NewHeader(t MsgType, source, dest uint16, name string) Header {
	h := Header{Type: t, Source: source, Dest: dest}
	h.SetName(name)
	return h
}

// Name returns the name field up to the first NUL byte.
func (h *Header) Name() string {
	if i := bytes.IndexByte(h.name[:], 0); i >= 0 {
		return string(h.name[:i])
	}
	return string(h.name[:])
}

// SetName stores name into the fixed-width field, truncating if needed.
func (h *Header) SetName(name string) {
	h.name = [MaxName]byte{}
	copy(h.name[:MaxName-1], name)
}

// nameForbidden are the characters a file name must not contain: path
// separators would let a name escape a node's files directory, and the
// comma, pipe and whitespace characters delimit the node's on-disk
// metadata and journal records.
const nameForbidden = "/\\,| \t\r\n"

// ValidFileName reports whether name is safe to carry as a file name.
func ValidFileName(name string) bool {
	if name == "" || len(name) >= MaxName {
		return false
	}
	if name == "." || name == ".." || bytes.Contains([]byte(name), []byte("..")) {
		return false
	}
	return !bytes.ContainsAny([]byte(name), nameForbidden)
}

// ValidFolderName is ValidFileName relaxed to allow the '/' folder
// separator, with empty path segments still rejected.
func ValidFolderName(name string) bool {
	if name == "" || len(name) >= MaxName {
		return false
	}
	for _, seg := range bytes.Split([]byte(name), []byte("/")) {
		if !ValidFileName(string(seg)) {
			return false
		}
	}
	return true
}

// WriteHeader encodes h to w in the fixed little-endian layout.
func WriteHeader(w io.Writer, h *Header) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.Type))
	binary.LittleEndian.PutUint16(buf[2:4], h.Source)
	binary.LittleEndian.PutUint16(buf[4:6], h.Dest)
	binary.LittleEndian.PutUint32(buf[6:10], h.PayloadLen)
	copy(buf[10:], h.name[:])

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader decodes a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}

	var h Header
	h.Type = MsgType(binary.LittleEndian.Uint16(buf[0:2]))
	h.Source = binary.LittleEndian.Uint16(buf[2:4])
	h.Dest = binary.LittleEndian.Uint16(buf[4:6])
	h.PayloadLen = binary.LittleEndian.Uint32(buf[6:10])
	copy(h.name[:], buf[10:])
	return h, nil
}

// WriteFrame writes a header and its payload in one call, fixing up
// PayloadLen from the payload slice.
func WriteFrame(w io.Writer, h Header, payload []byte) error {
	h.PayloadLen = uint32(len(payload))
	if err := WriteHeader(w, &h); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a header and its full payload from r.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	if h.PayloadLen == 0 {
		return h, nil, nil
	}
	if h.PayloadLen > maxPayload {
		return Header{}, nil, fmt.Errorf("payload length %d exceeds limit", h.PayloadLen)
	}

	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return h, payload, nil
}
