// Package mongowire is a minimal client for the legacy MongoDB wire
// protocol. It frames insert, update, delete and query messages over a
// single TCP connection and parses OP_REPLY responses. Documents are
// encoded and decoded with go.mongodb.org/mongo-driver/v2/bson.
package mongowire

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wricardo/mongowire/wire"
)

// DefaultPort is the standard mongod listen port.
const DefaultPort = 27017

// Conn is a client connection. It owns the underlying stream and a private
// request-id generator.
//
// A Conn is not safe for concurrent use and supports one in-flight query at
// a time: replies are correlated by reading the next message off the stream,
// so interleaving queries, or sharing a Conn across goroutines without
// external locking, is a misuse. After any protocol or transport error the
// stream position is indeterminate and the Conn must be closed and redialed.
type Conn struct {
	nc     net.Conn
	reader *bufio.Reader
	rng    *rand.Rand
}

// Dial connects to a server. A port of zero or less means DefaultPort.
func Dial(host string, port int) (*Conn, error) {
	if port <= 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

// NewConn wraps an already-connected stream.
func NewConn(nc net.Conn) *Conn {
	return &Conn{
		nc:     nc,
		reader: bufio.NewReader(nc),
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// nextRequestID draws one value from the connection's generator. Request ids
// are correlation tokens only: uniqueness is probabilistic and no
// cryptographic strength is implied.
func (c *Conn) nextRequestID() int32 {
	return int32(c.rng.Uint32())
}

// send writes a complete envelope to the stream in a single Write.
func (c *Conn) send(msg []byte) error {
	if _, err := c.nc.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// marshalDoc encodes a document, treating nil as the empty document.
func marshalDoc(v any) ([]byte, error) {
	if v == nil {
		v = bson.D{}
	}
	doc, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return doc, nil
}

// Insert sends an OP_INSERT with a single document and returns the request
// id. Insert does not await a reply; the server sends none.
func (c *Conn) Insert(collection string, doc any) (int32, error) {
	enc, err := marshalDoc(doc)
	if err != nil {
		return 0, err
	}
	id := c.nextRequestID()
	return id, c.send(wire.NewInsert(id, collection, enc))
}

// InsertMany sends all docs in one OP_INSERT envelope, in order. No batching
// or size-limit logic is applied; callers must respect the server's message
// size ceiling themselves. An empty docs slice still sends a valid envelope.
func (c *Conn) InsertMany(collection string, docs []any) (int32, error) {
	encoded := make([][]byte, len(docs))
	for i, doc := range docs {
		enc, err := marshalDoc(doc)
		if err != nil {
			return 0, fmt.Errorf("document %d: %w", i, err)
		}
		encoded[i] = enc
	}
	id := c.nextRequestID()
	return id, c.send(wire.NewInsert(id, collection, encoded...))
}

// Update sends an OP_UPDATE applying update to documents matching selector.
func (c *Conn) Update(collection string, flags []wire.UpdateFlag, selector, update any) (int32, error) {
	sel, err := marshalDoc(selector)
	if err != nil {
		return 0, fmt.Errorf("selector: %w", err)
	}
	upd, err := marshalDoc(update)
	if err != nil {
		return 0, fmt.Errorf("update: %w", err)
	}
	id := c.nextRequestID()
	return id, c.send(wire.NewUpdate(id, collection, wire.EncodeUpdateFlags(flags...), sel, upd))
}

// Delete sends an OP_DELETE removing documents matching selector.
func (c *Conn) Delete(collection string, selector any) (int32, error) {
	sel, err := marshalDoc(selector)
	if err != nil {
		return 0, fmt.Errorf("selector: %w", err)
	}
	id := c.nextRequestID()
	return id, c.send(wire.NewDelete(id, collection, sel))
}

// Query sends an OP_QUERY and blocks until the matching OP_REPLY arrives,
// returning the documents in wire order. A nil fields document omits the
// projection entirely; a nil selector matches everything.
//
// Results beyond the first batch are not fetched: OP_GET_MORE is
// unsupported, so numberToReturn bounds what a single Query can yield.
func (c *Conn) Query(collection string, opts []wire.QueryOption, numberToSkip, numberToReturn int32, selector, fields any) ([]bson.Raw, error) {
	sel, err := marshalDoc(selector)
	if err != nil {
		return nil, fmt.Errorf("selector: %w", err)
	}
	var proj []byte
	if fields != nil {
		proj, err = marshalDoc(fields)
		if err != nil {
			return nil, fmt.Errorf("fields: %w", err)
		}
	}

	id := c.nextRequestID()
	msg := wire.NewQuery(id, collection, wire.EncodeQueryOptions(opts...), numberToSkip, numberToReturn, sel, proj)
	if err := c.send(msg); err != nil {
		return nil, err
	}

	reply, err := wire.ReadReply(c.reader, id)
	if err != nil {
		return nil, err
	}
	return reply.Documents, nil
}
