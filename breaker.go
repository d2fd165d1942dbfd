package mongowire

import (
	"time"

	"github.com/sony/gobreaker/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wricardo/mongowire/wire"
)

// NewBreakerSettings returns gobreaker settings suited to a single server
// connection: the breaker opens once at least 3 requests have been seen and
// 60% of them failed.
func NewBreakerSettings(name string, maxRequests uint32, interval, timeout time.Duration) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}

// BreakerConn routes every operation of a Conn through a circuit breaker,
// failing fast while the breaker is open. It never retries: after a protocol
// error the wrapped Conn is as unusable as ever and must be redialed.
type BreakerConn struct {
	conn *Conn
	cb   *gobreaker.CircuitBreaker[[]bson.Raw]
}

// NewBreakerConn wraps conn with a circuit breaker built from settings.
func NewBreakerConn(conn *Conn, settings gobreaker.Settings) *BreakerConn {
	return &BreakerConn{
		conn: conn,
		cb:   gobreaker.NewCircuitBreaker[[]bson.Raw](settings),
	}
}

// Close closes the wrapped connection.
func (b *BreakerConn) Close() error {
	return b.conn.Close()
}

func (b *BreakerConn) write(op func() (int32, error)) (int32, error) {
	var id int32
	_, err := b.cb.Execute(func() ([]bson.Raw, error) {
		var err error
		id, err = op()
		return nil, err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (b *BreakerConn) Insert(collection string, doc any) (int32, error) {
	return b.write(func() (int32, error) { return b.conn.Insert(collection, doc) })
}

func (b *BreakerConn) InsertMany(collection string, docs []any) (int32, error) {
	return b.write(func() (int32, error) { return b.conn.InsertMany(collection, docs) })
}

func (b *BreakerConn) Update(collection string, flags []wire.UpdateFlag, selector, update any) (int32, error) {
	return b.write(func() (int32, error) { return b.conn.Update(collection, flags, selector, update) })
}

func (b *BreakerConn) Delete(collection string, selector any) (int32, error) {
	return b.write(func() (int32, error) { return b.conn.Delete(collection, selector) })
}

func (b *BreakerConn) Query(collection string, opts []wire.QueryOption, numberToSkip, numberToReturn int32, selector, fields any) ([]bson.Raw, error) {
	return b.cb.Execute(func() ([]bson.Raw, error) {
		return b.conn.Query(collection, opts, numberToSkip, numberToReturn, selector, fields)
	})
}
