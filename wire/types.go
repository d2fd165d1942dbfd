// Package wire implements the legacy MongoDB wire protocol: framing of the
// request envelopes (OP_INSERT, OP_UPDATE, OP_DELETE, OP_QUERY) and parsing
// of OP_REPLY responses. Documents travel through this package as opaque
// pre-encoded BSON bytes; marshaling belongs to the caller.
package wire

import "fmt"

// HeaderLen is the size of a MsgHeader on the wire.
const HeaderLen = 16

// replyBlockLen is the size of the OP_REPLY fields between the header and
// the returned documents.
const replyBlockLen = 20

// Opcode identifies the operation carried by a wire message.
type Opcode int32

const (
	OpReply       Opcode = 1
	OpMsg         Opcode = 1000
	OpUpdate      Opcode = 2001
	OpInsert      Opcode = 2002
	OpGetByOID    Opcode = 2003
	OpQuery       Opcode = 2004
	OpGetMore     Opcode = 2005
	OpDelete      Opcode = 2006
	OpKillCursors Opcode = 2007
)

var opcodeNames = map[Opcode]string{
	OpReply:       "OP_REPLY",
	OpMsg:         "OP_MSG",
	OpUpdate:      "OP_UPDATE",
	OpInsert:      "OP_INSERT",
	OpGetByOID:    "OP_GET_BY_OID",
	OpQuery:       "OP_QUERY",
	OpGetMore:     "OP_GET_MORE",
	OpDelete:      "OP_DELETE",
	OpKillCursors: "OP_KILL_CURSORS",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", int32(o))
}

// OpcodeFromWire converts a wire integer into an Opcode. Any value outside
// the defined set is an error, never a panic: a malformed stream must stay
// recoverable for the caller.
func OpcodeFromWire(v int32) (Opcode, error) {
	op := Opcode(v)
	if _, ok := opcodeNames[op]; !ok {
		return 0, fmt.Errorf("opcode %d: %w", v, ErrUnknownOpcode)
	}
	return op, nil
}

// QueryOption is an OP_QUERY flag bit.
type QueryOption int32

const (
	TailableCursor  QueryOption = 2
	SlaveOK         QueryOption = 4
	OplogReplay     QueryOption = 8
	NoCursorTimeout QueryOption = 16
)

// EncodeQueryOptions combines query options into the OP_QUERY flags field.
func EncodeQueryOptions(opts ...QueryOption) int32 {
	var flags int32
	for _, o := range opts {
		flags |= int32(o)
	}
	return flags
}

// UpdateFlag is an OP_UPDATE flag bit. The values are the fixed wire bits,
// not positions in this declaration.
type UpdateFlag int32

const (
	Upsert UpdateFlag = 1
	Multi  UpdateFlag = 2
)

// EncodeUpdateFlags combines update flags into the OP_UPDATE flags field.
func EncodeUpdateFlags(flags ...UpdateFlag) int32 {
	var bits int32
	for _, f := range flags {
		bits |= int32(f)
	}
	return bits
}

// MsgHeader is the 16-byte header that starts every wire message.
type MsgHeader struct {
	// MessageLength is the total message size, including the header itself.
	MessageLength int32
	RequestID     int32
	ResponseTo    int32
	OpCode        Opcode
}

func (h MsgHeader) String() string {
	return fmt.Sprintf("opCode:%s msgLen:%d reqID:%d respTo:%d",
		h.OpCode, h.MessageLength, h.RequestID, h.ResponseTo)
}
