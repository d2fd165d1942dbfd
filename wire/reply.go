package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Reply is a parsed OP_REPLY message.
type Reply struct {
	Header        MsgHeader
	ResponseFlags int32
	// CursorID identifies a server-side cursor when the result set did not
	// fit in one reply. This client never issues OP_GET_MORE, so a nonzero
	// value only tells the caller that more batches exist on the server.
	CursorID       int64
	StartingFrom   int32
	NumberReturned int32
	Documents      []bson.Raw
}

// ReadHeader reads and decodes the 16-byte message header.
func ReadHeader(r io.Reader) (MsgHeader, error) {
	var buf [HeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return MsgHeader{}, fmt.Errorf("read header: %w", err)
	}
	return MsgHeader{
		MessageLength: int32(binary.LittleEndian.Uint32(buf[0:])),
		RequestID:     int32(binary.LittleEndian.Uint32(buf[4:])),
		ResponseTo:    int32(binary.LittleEndian.Uint32(buf[8:])),
		OpCode:        Opcode(binary.LittleEndian.Uint32(buf[12:])),
	}, nil
}

// ReadReply reads one OP_REPLY from r and correlates it against expectedID.
// It consumes exactly MessageLength bytes on success. Any validation failure
// leaves the stream position indeterminate; the connection is then unusable.
func ReadReply(r io.Reader, expectedID int32) (*Reply, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	op, err := OpcodeFromWire(int32(hdr.OpCode))
	if err != nil {
		return nil, err
	}
	if op != OpReply {
		return nil, fmt.Errorf("got %s, want %s: %w", op, OpReply, ErrUnexpectedOpcode)
	}
	if hdr.ResponseTo != expectedID {
		return nil, fmt.Errorf("responseTo %d, want %d: %w", hdr.ResponseTo, expectedID, ErrResponseMismatch)
	}

	var block [replyBlockLen]byte
	if _, err := io.ReadFull(r, block[:]); err != nil {
		return nil, fmt.Errorf("read reply block: %w", err)
	}
	reply := &Reply{
		Header:         hdr,
		ResponseFlags:  int32(binary.LittleEndian.Uint32(block[0:])),
		CursorID:       int64(binary.LittleEndian.Uint64(block[4:])),
		StartingFrom:   int32(binary.LittleEndian.Uint32(block[12:])),
		NumberReturned: int32(binary.LittleEndian.Uint32(block[16:])),
	}

	if reply.ResponseFlags != 0 {
		return nil, fmt.Errorf("reply flags %#x: %w", reply.ResponseFlags, ErrReplyFlags)
	}

	remaining := int(hdr.MessageLength) - HeaderLen - replyBlockLen
	if remaining < 0 || reply.NumberReturned < 0 {
		return nil, fmt.Errorf("messageLength %d, numberReturned %d: %w",
			hdr.MessageLength, reply.NumberReturned, ErrBadDocument)
	}
	region := make([]byte, remaining)
	if _, err := io.ReadFull(r, region); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}

	docs, err := splitDocuments(region, int(reply.NumberReturned))
	if err != nil {
		return nil, err
	}
	reply.Documents = docs
	return reply, nil
}

// splitDocuments cuts region into exactly n documents using each document's
// embedded length prefix. The n documents must consume the region exactly;
// leftover or missing bytes are a framing bug upstream and fail loudly.
func splitDocuments(region []byte, n int) ([]bson.Raw, error) {
	// A document is at least 5 bytes (length prefix + terminator), so a
	// count the region cannot hold is rejected before n is trusted as an
	// allocation size.
	if n > len(region)/5 {
		return nil, fmt.Errorf("numberReturned %d exceeds %d-byte region: %w", n, len(region), ErrBadDocument)
	}
	docs := make([]bson.Raw, 0, n)
	pos := 0
	for i := 0; i < n; i++ {
		doc, used, err := readDocument(region[pos:])
		if err != nil {
			return nil, fmt.Errorf("document %d of %d: %w", i, n, err)
		}
		docs = append(docs, doc)
		pos += used
	}
	if pos != len(region) {
		return nil, fmt.Errorf("%d leftover bytes after %d documents: %w", len(region)-pos, n, ErrBadDocument)
	}
	return docs, nil
}

// readDocument reads a single BSON document from buf, returning the raw
// document and the bytes consumed.
func readDocument(buf []byte) (bson.Raw, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("short length prefix (%d bytes): %w", len(buf), ErrBadDocument)
	}
	docLen := int(binary.LittleEndian.Uint32(buf[:4]))
	if docLen < 5 || docLen > len(buf) {
		return nil, 0, fmt.Errorf("document length %d of %d available: %w", docLen, len(buf), ErrBadDocument)
	}
	doc := make([]byte, docLen)
	copy(doc, buf[:docLen])
	return bson.Raw(doc), docLen, nil
}
