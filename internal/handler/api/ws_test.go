package api

import (
	"errors"
	"testing"
	"time"
)

// failingPingConn rejects every write, like a half-open peer.
type failingPingConn struct {
	closed chan struct{}
}

func (c *failingPingConn) WriteJSON(interface{}) error { return errors.New("broken pipe") }
func (c *failingPingConn) Close() error {
	close(c.closed)
	return nil
}

func TestPingFailureClosesConnection(t *testing.T) {
	h, _ := newTestHandler(t, &stubStore{})
	h.idlePing = time.Millisecond

	conn := &failingPingConn{closed: make(chan struct{})}
	stop := make(chan struct{})
	defer close(stop)

	go h.pingLoop(conn, stop)
	select {
	case <-conn.closed:
		// the reader unblocks and the fan-out eviction path runs
	case <-time.After(time.Second):
		t.Fatal("failed ping did not close the connection")
	}
}
