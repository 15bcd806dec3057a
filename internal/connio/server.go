package connio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"telecomrouter/internal/dispatch"
	"telecomrouter/internal/router"
)

// Config holds the Router's TCP ingress settings.
type Config struct {
	Host string
	Port int
}

func (c Config) addr() string {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5555
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Server is the Router's TCP front end: a non-blocking accept loop handing
// each connection its own read/write goroutine pair, and a request parser
// that submits one dispatch.Job per well-formed line.
type Server struct {
	cfg        Config
	pool       *dispatch.Pool
	logger     *log.Logger
	lc         net.ListenConfig
	ln         net.Listener
	closed     bool
	mu         sync.Mutex
	wg         sync.WaitGroup
	dispatchFn func(dispatch.Job)
}

// NewServer constructs a Server that submits parsed request lines to pool.
func NewServer(cfg Config, pool *dispatch.Pool, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		lc:     net.ListenConfig{Control: setReuseAddrAndPort},
	}
}

// Addr returns the bound listener address. Valid only after Run has
// started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Run binds the listener (SO_REUSEADDR/SO_REUSEPORT; the listen backlog is
// the operating system's default, not set explicitly) and
// accepts connections until ctx is cancelled or a fatal accept error
// occurs. Each accepted connection runs its own read/write loop pair.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.lc.Listen(ctx, "tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("connio: listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				s.logger.Printf("connio: transient accept error: %v", err)
				continue
			}
			return fmt.Errorf("connio: accept: %w", err)
		}
		s.handle(conn)
	}
}

// Close stops accepting new connections. In-flight connections drain on
// their own; it does not forcibly close them.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) handle(raw net.Conn) {
	conn := newConnection(raw, s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.run(func(line []byte) {
			s.submit(conn, line)
		})
	}()
}

func (s *Server) submit(conn *Connection, line []byte) {
	msisdn, op, fields, ok := router.ParseLine(line)
	if !ok {
		conn.DeliverLine([]byte(`{"status":"ERROR","reason":"malformed_request"}`))
		return
	}
	s.pool.Submit(func() {
		s.dispatchJob(conn, msisdn, op, fields)
	})
}

// dispatchJob hands the parsed request to the callback installed by
// SetDispatcher, or answers dispatcher_not_configured when none is set.
func (s *Server) dispatchJob(conn *Connection, msisdn, op string, fields map[string]json.RawMessage) {
	if s.dispatchFn == nil {
		conn.DeliverLine([]byte(`{"status":"ERROR","reason":"dispatcher_not_configured"}`))
		return
	}
	s.dispatchFn(dispatch.Job{MSISDN: msisdn, Op: op, Fields: fields, Sink: conn})
}

// SetDispatcher wires the dispatcher callback used for every parsed
// request line. Must be called before Run.
func (s *Server) SetDispatcher(fn func(dispatch.Job)) {
	s.dispatchFn = fn
}
