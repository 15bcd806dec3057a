// Package connio is the TCP connection layer: a goroutine per accepted
// connection (read loop + write loop), with cross-goroutine mutation of
// connection state limited to appending to the connection's own
// mutex-guarded outbound queue, which a dedicated writer goroutine drains,
// rather than a coarse global connection lock.
package connio

import (
	"bufio"
	"log"
	"net"
	"sync"
)

// Connection owns one accepted TCP socket: an inbound line framer and an
// outbound byte-line queue. Workers and the demultiplexer deliver response
// lines by calling DeliverLine, which appends to the queue under the
// connection's mutex; only this connection's own writer goroutine removes
// lines from the queue or writes to the socket.
type Connection struct {
	conn   net.Conn
	logger *log.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	closed  bool
	closeCh chan struct{}

	wg sync.WaitGroup
}

// LineHandler receives one complete, unframed request line.
type LineHandler func(line []byte)

func newConnection(conn net.Conn, logger *log.Logger) *Connection {
	if logger == nil {
		logger = log.Default()
	}
	c := &Connection{conn: conn, logger: logger, closeCh: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// DeliverLine implements dispatch.Sink. payload is appended with a
// trailing newline and enqueued; delivery never blocks the caller and is
// silently discarded if the connection has already closed.
func (c *Connection) DeliverLine(payload []byte) {
	line := make([]byte, len(payload)+1)
	copy(line, payload)
	line[len(payload)] = '\n'

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, line)
	c.mu.Unlock()
	c.cond.Signal()
}

// run starts the read and write loops and blocks until both exit.
func (c *Connection) run(onLine LineHandler) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.readLoop(onLine)
	}()
	c.wg.Wait()
}

func (c *Connection) readLoop(onLine LineHandler) {
	defer c.close()
	r := bufio.NewReader(c.conn)
	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = extractLines(pending, onLine)
		}
		if err != nil {
			return
		}
	}
}

// extractLines scans data for newline-terminated lines, invoking onLine
// for each complete line (with a trailing \r stripped) and returning the
// unconsumed remainder. Empty lines are ignored.
func extractLines(data []byte, onLine LineHandler) []byte {
	for {
		idx := indexByte(data, '\n')
		if idx < 0 {
			return data
		}
		line := data[:idx]
		data = data[idx+1:]
		if n := len(line); n > 0 && line[n-1] == '\r' {
			line = line[:n-1]
		}
		if len(line) > 0 {
			onLine(append([]byte(nil), line...))
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func (c *Connection) writeLoop() {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if len(c.queue) == 0 && c.closed {
			c.mu.Unlock()
			return
		}
		line := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := writeAll(c.conn, line); err != nil {
			c.logger.Printf("connio: write error: %v", err)
			c.close()
			return
		}
	}
}

// writeAll resumes delivery of the unwritten suffix on a short write so a
// partial Write never corrupts or drops the rest of the line.
func writeAll(w net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	close(c.closeCh)
	_ = c.conn.Close()
}
