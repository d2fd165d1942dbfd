package wire

import "errors"

// Protocol violations are never recovered locally. Each failure wraps one of
// these sentinels with the observed and expected values, so callers can both
// match with errors.Is and read the mismatch from the message. After any of
// them the stream position is indeterminate and the connection must be
// discarded.
var (
	// ErrUnknownOpcode reports a wire integer outside the defined opcode set.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrUnexpectedOpcode reports a reply whose opcode is not OP_REPLY.
	ErrUnexpectedOpcode = errors.New("unexpected opcode")

	// ErrResponseMismatch reports a reply whose responseTo does not match the
	// request id it is being correlated against.
	ErrResponseMismatch = errors.New("response does not match request id")

	// ErrReplyFlags reports a reply carrying nonzero response flags
	// (query failure, cursor not found, ...). Individual bits are not
	// interpreted at this layer.
	ErrReplyFlags = errors.New("nonzero reply flags")

	// ErrBadDocument reports a document region that does not frame exactly
	// numberReturned documents: a truncated or oversized document, or
	// leftover bytes after the last one.
	ErrBadDocument = errors.New("malformed document region")
)
