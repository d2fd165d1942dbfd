package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wricardo/mongowire"
	"github.com/wricardo/mongowire/wire"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, w io.Writer) error {
	app := &cli.App{
		Name:  "mongowire",
		Usage: "issue legacy wire-protocol operations against a MongoDB-compatible server",
		Description: `mongowire speaks the legacy MongoDB wire protocol (OP_INSERT, OP_UPDATE,
OP_DELETE, OP_QUERY) directly over TCP. Every command takes the full
collection namespace ("db.collection") as its first argument.

Examples:
- mongowire --host 127.0.0.1 insert test.users --doc '{"name":"alice"}'
- mongowire find test.users --filter '{"name":"alice"}' --limit 10
- mongowire update test.users --filter '{"name":"alice"}' --update '{"$set":{"active":true}}' --upsert`,
		Writer:          w,
		ErrWriter:       io.Discard,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Value: "127.0.0.1", Usage: "server host"},
			&cli.IntFlag{Name: "port", Value: mongowire.DefaultPort, Usage: "server port"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 0 {
				return fmt.Errorf("unknown command %q", c.Args().First())
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "insert",
				Usage:     "insert a single document",
				ArgsUsage: "<db.collection>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "doc", Usage: "document (JSON)"},
					&cli.StringFlag{Name: "doc-file", Usage: "document from file"},
				},
				Action: withConn(doInsert),
			},
			{
				Name:      "insert-many",
				Usage:     "insert several documents in one message",
				ArgsUsage: "<db.collection>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "docs", Usage: "documents array (JSON)"},
					&cli.StringFlag{Name: "docs-file", Usage: "documents array from file"},
				},
				Action: withConn(doInsertMany),
			},
			{
				Name:      "update",
				Usage:     "update documents matching a filter",
				ArgsUsage: "<db.collection>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Value: "{}", Usage: "selector document (JSON)"},
					&cli.StringFlag{Name: "filter-file", Usage: "selector document from file"},
					&cli.StringFlag{Name: "update", Usage: "update document (JSON)"},
					&cli.StringFlag{Name: "update-file", Usage: "update document from file"},
					&cli.BoolFlag{Name: "upsert", Usage: "insert if no document matches"},
					&cli.BoolFlag{Name: "multi", Usage: "update all matching documents"},
				},
				Action: withConn(doUpdate),
			},
			{
				Name:      "delete",
				Usage:     "delete documents matching a filter",
				ArgsUsage: "<db.collection>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Value: "{}", Usage: "selector document (JSON)"},
					&cli.StringFlag{Name: "filter-file", Usage: "selector document from file"},
				},
				Action: withConn(doDelete),
			},
			{
				Name:      "find",
				Usage:     "query documents and print the first reply batch",
				ArgsUsage: "<db.collection>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "filter", Value: "{}", Usage: "selector document (JSON)"},
					&cli.StringFlag{Name: "filter-file", Usage: "selector document from file"},
					&cli.StringFlag{Name: "fields", Usage: "projection document (JSON)"},
					&cli.IntFlag{Name: "skip", Usage: "documents to skip"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "max documents to return"},
					&cli.BoolFlag{Name: "slave-ok", Usage: "allow reads from secondaries"},
					&cli.BoolFlag{Name: "tailable", Usage: "tailable cursor"},
					&cli.BoolFlag{Name: "oplog-replay", Usage: "oplog replay hint"},
					&cli.BoolFlag{Name: "no-cursor-timeout", Usage: "disable server cursor timeout"},
				},
				Action: withConn(doFind),
			},
		},
	}
	return app.Run(append([]string{"mongowire"}, args...))
}

type commandFunc func(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error

// withConn extracts the collection argument, dials, and tears the
// connection down after the command.
func withConn(fn commandFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		collection := c.Args().First()
		if collection == "" || !strings.Contains(collection, ".") {
			return fmt.Errorf("%s requires a full collection namespace (db.collection)", c.Command.Name)
		}
		conn, err := mongowire.Dial(c.String("host"), c.Int("port"))
		if err != nil {
			return err
		}
		defer conn.Close()
		return fn(conn, collection, c, c.App.Writer)
	}
}

func doInsert(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error {
	doc, err := parseJSONArg(c.String("doc"), c.String("doc-file"))
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return fmt.Errorf("insert requires --doc or --doc-file")
	}
	id, err := conn.Insert(collection, doc)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return writeDoc(w, bson.D{{Key: "requestId", Value: id}})
}

func doInsertMany(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error {
	docsStr, err := readArg(c.String("docs"), c.String("docs-file"))
	if err != nil {
		return err
	}
	if docsStr == "" {
		return fmt.Errorf("insert-many requires --docs or --docs-file")
	}
	var arr []bson.D
	if err := bson.UnmarshalExtJSON([]byte(docsStr), false, &arr); err != nil {
		return fmt.Errorf("parse docs: %w", err)
	}
	docs := make([]any, len(arr))
	for i, d := range arr {
		docs[i] = d
	}
	id, err := conn.InsertMany(collection, docs)
	if err != nil {
		return fmt.Errorf("insert-many: %w", err)
	}
	return writeDoc(w, bson.D{{Key: "requestId", Value: id}, {Key: "documents", Value: int32(len(docs))}})
}

func doUpdate(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error {
	filter, err := parseJSONArg(c.String("filter"), c.String("filter-file"))
	if err != nil {
		return err
	}
	update, err := parseJSONArg(c.String("update"), c.String("update-file"))
	if err != nil {
		return err
	}
	if len(update) == 0 {
		return fmt.Errorf("update requires --update or --update-file")
	}
	var flags []wire.UpdateFlag
	if c.Bool("upsert") {
		flags = append(flags, wire.Upsert)
	}
	if c.Bool("multi") {
		flags = append(flags, wire.Multi)
	}
	id, err := conn.Update(collection, flags, filter, update)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return writeDoc(w, bson.D{{Key: "requestId", Value: id}})
}

func doDelete(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error {
	filter, err := parseJSONArg(c.String("filter"), c.String("filter-file"))
	if err != nil {
		return err
	}
	id, err := conn.Delete(collection, filter)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return writeDoc(w, bson.D{{Key: "requestId", Value: id}})
}

func doFind(conn *mongowire.Conn, collection string, c *cli.Context, w io.Writer) error {
	skip, err := int32Arg(c, "skip")
	if err != nil {
		return err
	}
	limit, err := int32Arg(c, "limit")
	if err != nil {
		return err
	}
	filter, err := parseJSONArg(c.String("filter"), c.String("filter-file"))
	if err != nil {
		return err
	}
	var fields any
	if s := c.String("fields"); s != "" {
		var proj bson.D
		if err := bson.UnmarshalExtJSON([]byte(s), false, &proj); err != nil {
			return fmt.Errorf("parse fields: %w", err)
		}
		fields = proj
	}
	var opts []wire.QueryOption
	if c.Bool("slave-ok") {
		opts = append(opts, wire.SlaveOK)
	}
	if c.Bool("tailable") {
		opts = append(opts, wire.TailableCursor)
	}
	if c.Bool("oplog-replay") {
		opts = append(opts, wire.OplogReplay)
	}
	if c.Bool("no-cursor-timeout") {
		opts = append(opts, wire.NoCursorTimeout)
	}

	docs, err := conn.Query(collection, opts, skip, limit, filter, fields)
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}
	for _, raw := range docs {
		var doc bson.D
		if err := bson.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		if err := writeDoc(w, doc); err != nil {
			return err
		}
	}
	return nil
}

// --- helpers ---

// int32Arg reads an int flag that travels as an int32 wire field.
func int32Arg(c *cli.Context, name string) (int32, error) {
	v := c.Int(name)
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("--%s %d out of int32 range", name, v)
	}
	return int32(v), nil
}

func parseJSONArg(inline, filePath string) (bson.D, error) {
	s, err := readArg(inline, filePath)
	if err != nil {
		return nil, err
	}
	if s == "" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return doc, nil
}

func readArg(inline, filePath string) (string, error) {
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return inline, nil
}

func writeDoc(w io.Writer, doc bson.D) error {
	ejson, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(ejson))
	return err
}
