package mongowire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wricardo/mongowire/wire"
)

// ---- test server ----

type received struct {
	op   wire.Opcode
	body []byte
}

// testServer accepts one client and answers every OP_QUERY with the reply
// produced by its reply func. All received messages land on msgs.
type testServer struct {
	ln    net.Listener
	msgs  chan received
	reply func(hdr wire.MsgHeader) []byte
}

func startTestServer(t *testing.T, reply func(hdr wire.MsgHeader) []byte) (*testServer, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{ln: ln, msgs: make(chan received, 16), reply: reply}
	go srv.serve()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return srv, host, port
}

func (s *testServer) serve() {
	nc, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer nc.Close()
	reader := bufio.NewReader(nc)

	for {
		hdr, err := wire.ReadHeader(reader)
		if err != nil {
			return
		}
		body := make([]byte, int(hdr.MessageLength)-wire.HeaderLen)
		if _, err := io.ReadFull(reader, body); err != nil {
			return
		}
		s.msgs <- received{op: hdr.OpCode, body: body}

		if hdr.OpCode == wire.OpQuery && s.reply != nil {
			if _, err := nc.Write(s.reply(hdr)); err != nil {
				return
			}
		}
	}
}

func dialTest(t *testing.T, host string, port int) *Conn {
	t.Helper()
	conn, err := Dial(host, port)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func mustMarshal(t *testing.T, doc bson.D) []byte {
	t.Helper()
	b, err := bson.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// ---- write operations ----

func TestInsert(t *testing.T) {
	srv, host, port := startTestServer(t, nil)
	conn := dialTest(t, host, port)

	if _, err := conn.Insert("db.users", bson.D{{Key: "name", Value: "alice"}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got := <-srv.msgs
	if got.op != wire.OpInsert {
		t.Fatalf("server saw %v, want OP_INSERT", got.op)
	}
	wantName := append([]byte("db.users"), 0)
	if !bytes.Equal(got.body[4:4+len(wantName)], wantName) {
		t.Fatal("collection name not on the wire")
	}
}

func TestInsertMany_OrderAndSingleEnvelope(t *testing.T) {
	srv, host, port := startTestServer(t, nil)
	conn := dialTest(t, host, port)

	docs := []any{
		bson.D{{Key: "n", Value: int32(1)}},
		bson.D{{Key: "n", Value: int32(2)}},
		bson.D{{Key: "n", Value: int32(3)}},
	}
	if _, err := conn.InsertMany("db.c", docs); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	got := <-srv.msgs
	var want []byte
	for _, d := range docs {
		want = append(want, mustMarshal(t, d.(bson.D))...)
	}
	rest := got.body[4+len("db.c")+1:]
	if !bytes.Equal(rest, want) {
		t.Fatal("documents reordered or split across envelopes")
	}

	select {
	case extra := <-srv.msgs:
		t.Fatalf("unexpected second envelope: %v", extra.op)
	default:
	}
}

func TestUpdate_Flags(t *testing.T) {
	srv, host, port := startTestServer(t, nil)
	conn := dialTest(t, host, port)

	_, err := conn.Update("db.c", []wire.UpdateFlag{wire.Upsert},
		bson.D{{Key: "_id", Value: int32(1)}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "x", Value: int32(2)}}}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := <-srv.msgs
	if got.op != wire.OpUpdate {
		t.Fatalf("server saw %v, want OP_UPDATE", got.op)
	}
	flagsOff := 4 + len("db.c") + 1
	if flags := int32(binary.LittleEndian.Uint32(got.body[flagsOff:])); flags != 1 {
		t.Fatalf("update flags = %d, want 1", flags)
	}
}

func TestDelete(t *testing.T) {
	srv, host, port := startTestServer(t, nil)
	conn := dialTest(t, host, port)

	if _, err := conn.Delete("db.c", bson.D{{Key: "x", Value: int32(1)}}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := <-srv.msgs; got.op != wire.OpDelete {
		t.Fatalf("server saw %v, want OP_DELETE", got.op)
	}
}

// ---- query ----

func TestQuery(t *testing.T) {
	a := bson.D{{Key: "name", Value: "alice"}}
	b := bson.D{{Key: "name", Value: "bob"}}
	srv, host, port := startTestServer(t, func(hdr wire.MsgHeader) []byte {
		rawA, _ := bson.Marshal(a)
		rawB, _ := bson.Marshal(b)
		return wire.NewReply(1, hdr.RequestID, 0, 0, 0, rawA, rawB)
	})
	conn := dialTest(t, host, port)

	docs, err := conn.Query("db.users", []wire.QueryOption{wire.SlaveOK}, 0, 10,
		bson.D{{Key: "active", Value: true}}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	var first bson.D
	if err := bson.Unmarshal(docs[0], &first); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(first) != 1 || first[0].Key != "name" || first[0].Value != "alice" {
		t.Fatalf("first document = %v", first)
	}
	<-srv.msgs
}

func TestQuery_CorrelationMismatch(t *testing.T) {
	_, host, port := startTestServer(t, func(hdr wire.MsgHeader) []byte {
		return wire.NewReply(1, hdr.RequestID+1, 0, 0, 0)
	})
	conn := dialTest(t, host, port)

	_, err := conn.Query("db.c", nil, 0, 1, nil, nil)
	if !errors.Is(err, wire.ErrResponseMismatch) {
		t.Fatalf("got %v, want ErrResponseMismatch", err)
	}
}

func TestQuery_ServerReportsFailure(t *testing.T) {
	_, host, port := startTestServer(t, func(hdr wire.MsgHeader) []byte {
		return wire.NewReply(1, hdr.RequestID, 2, 0, 0) // QueryFailure flag
	})
	conn := dialTest(t, host, port)

	_, err := conn.Query("db.c", nil, 0, 1, nil, nil)
	if !errors.Is(err, wire.ErrReplyFlags) {
		t.Fatalf("got %v, want ErrReplyFlags", err)
	}
}

func TestQuery_WrongOpcodeFromServer(t *testing.T) {
	_, host, port := startTestServer(t, func(hdr wire.MsgHeader) []byte {
		msg := wire.NewReply(1, hdr.RequestID, 0, 0, 0)
		binary.LittleEndian.PutUint32(msg[12:], uint32(wire.OpMsg))
		return msg
	})
	conn := dialTest(t, host, port)

	_, err := conn.Query("db.c", nil, 0, 1, nil, nil)
	if !errors.Is(err, wire.ErrUnexpectedOpcode) {
		t.Fatalf("got %v, want ErrUnexpectedOpcode", err)
	}
}

// ---- connection lifecycle ----

func TestDial_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	if _, err := Dial("127.0.0.1", port); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClose(t *testing.T) {
	_, host, port := startTestServer(t, nil)
	conn := dialTest(t, host, port)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := conn.Insert("db.c", bson.D{}); err == nil {
		t.Fatal("expected write on closed connection to fail")
	}
}

// ---- request id generator ----

func TestRequestIDs(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	conn := NewConn(client)

	seen := make(map[int32]bool)
	for i := 0; i < 1000; i++ {
		seen[conn.nextRequestID()] = true
	}
	// Collisions are possible but a degenerate generator is not.
	if len(seen) < 2 {
		t.Fatalf("generator produced %d distinct ids over 1000 draws", len(seen))
	}
}

func TestConnsHaveIndependentGenerators(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	c1, c2 := NewConn(a), NewConn(b)

	same := 0
	for i := 0; i < 10; i++ {
		if c1.nextRequestID() == c2.nextRequestID() {
			same++
		}
	}
	if same == 10 {
		t.Fatal("two connections produced identical id streams")
	}
}
