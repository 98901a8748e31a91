package reactor

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/vcsnet/netsync/netsync"
)

// event is delivered to the reactor loop by the goroutines pumping a
// connection.
type event struct {
	conn    *conn
	data    []byte
	flushed int
	err     error
	write   bool
}

// conn pairs a session with its transport. writing and paused are owned by
// the reactor loop.
type conn struct {
	session *netsync.Session
	nc      net.Conn
	out     chan []byte
	resume  chan struct{}
	closed  chan struct{}
	result  chan *netsync.Result
	once    sync.Once

	writing bool
	paused  bool
}

func newConn(session *netsync.Session, nc net.Conn) *conn {
	return &conn{
		session: session,
		nc:      nc,
		out:     make(chan []byte, 1),
		resume:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
		result:  make(chan *netsync.Result, 1),
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.nc.Close()
	})
}

func (c *conn) send(events chan<- event, ev event) bool {
	ev.conn = c
	select {
	case events <- ev:
		return true
	case <-c.closed:
		return false
	}
}

// readLoop reads until the transport fails. After every read it waits until
// the loop fed the data to the session.
func (c *conn) readLoop(events chan<- event, size int) {
	for {
		buf := make([]byte, size)
		n, err := c.nc.Read(buf)
		if n > 0 {
			if !c.send(events, event{data: buf[:n]}) {
				return
			}
			select {
			case <-c.resume:
			case <-c.closed:
				return
			}
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = io.EOF
			}
			c.send(events, event{err: err})
			return
		}
	}
}

func (c *conn) writeLoop(events chan<- event) {
	for {
		select {
		case buf := <-c.out:
			n, err := c.nc.Write(buf)
			if !c.send(events, event{write: true, flushed: n, err: err}) || err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
