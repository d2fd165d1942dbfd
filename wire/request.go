package wire

import "encoding/binary"

// Request constructors. Each returns the complete envelope as a single
// contiguous buffer so the caller can hand it to one Write call:
//
//	int32 messageLength | int32 requestID | int32 responseTo(=0) | int32 opcode | body
//
// All integers are little-endian and fixed width. Documents are pre-encoded
// BSON; the framer concatenates them as-is.

func appendInt32(dst []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(dst, uint32(v))
}

func appendInt64(dst []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}

// appendCString appends the name bytes followed by a single null terminator.
// No length prefix.
func appendCString(dst []byte, s string) []byte {
	dst = append(dst, s...)
	return append(dst, 0)
}

// envelope prefixes body with a request header. messageLength covers the
// header itself.
func envelope(requestID int32, op Opcode, body []byte) []byte {
	msg := make([]byte, 0, HeaderLen+len(body))
	msg = appendInt32(msg, int32(HeaderLen+len(body)))
	msg = appendInt32(msg, requestID)
	msg = appendInt32(msg, 0)
	msg = appendInt32(msg, int32(op))
	return append(msg, body...)
}

// NewInsert frames an OP_INSERT carrying docs in order. Zero documents is
// legal: the body is then just the reserved int32 and the collection name.
func NewInsert(requestID int32, collection string, docs ...[]byte) []byte {
	body := appendInt32(nil, 0)
	body = appendCString(body, collection)
	for _, doc := range docs {
		body = append(body, doc...)
	}
	return envelope(requestID, OpInsert, body)
}

// NewUpdate frames an OP_UPDATE. flags is the OR of UpdateFlag bits
// (see EncodeUpdateFlags).
func NewUpdate(requestID int32, collection string, flags int32, selector, update []byte) []byte {
	body := appendInt32(nil, 0)
	body = appendCString(body, collection)
	body = appendInt32(body, flags)
	body = append(body, selector...)
	body = append(body, update...)
	return envelope(requestID, OpUpdate, body)
}

// NewDelete frames an OP_DELETE removing documents matching selector.
func NewDelete(requestID int32, collection string, selector []byte) []byte {
	body := appendInt32(nil, 0)
	body = appendCString(body, collection)
	body = appendInt32(body, 0)
	body = append(body, selector...)
	return envelope(requestID, OpDelete, body)
}

// NewQuery frames an OP_QUERY. flags is the OR of QueryOption bits
// (see EncodeQueryOptions). fields is an optional projection document;
// nil contributes no bytes at all, as opposed to an empty document.
func NewQuery(requestID int32, collection string, flags int32, numberToSkip, numberToReturn int32, selector, fields []byte) []byte {
	body := appendInt32(nil, flags)
	body = appendCString(body, collection)
	body = appendInt32(body, numberToSkip)
	body = appendInt32(body, numberToReturn)
	body = append(body, selector...)
	if fields != nil {
		body = append(body, fields...)
	}
	return envelope(requestID, OpQuery, body)
}

// NewReply frames an OP_REPLY. The client never sends one; it is here for
// proxies and test harnesses that have to synthesize server responses.
func NewReply(requestID, responseTo int32, flags int32, cursorID int64, startingFrom int32, docs ...[]byte) []byte {
	body := appendInt32(nil, flags)
	body = appendInt64(body, cursorID)
	body = appendInt32(body, startingFrom)
	body = appendInt32(body, int32(len(docs)))
	for _, doc := range docs {
		body = append(body, doc...)
	}
	msg := make([]byte, 0, HeaderLen+len(body))
	msg = appendInt32(msg, int32(HeaderLen+len(body)))
	msg = appendInt32(msg, requestID)
	msg = appendInt32(msg, responseTo)
	msg = appendInt32(msg, int32(OpReply))
	return append(msg, body...)
}
