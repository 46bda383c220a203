package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrConnection = errors.New("connection error")

// Dialer opens one connection per exchange with bounded connect and IO time.
type Dialer struct {
	DialTimeout time.Duration
	IOTimeout   time.Duration
}

// Call sends verb and args to addr and decodes the response into reply.
// A nil reply sends the request without waiting for a response.
func (d Dialer) Call(ctx context.Context, addr string, verb Verb, args Message, reply Message) error {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnection, addr, err)
	}

	defer conn.Close()

	if deadline, ok := d.deadline(ctx); ok {
		_ = conn.SetDeadline(deadline)
	}

	w := NewWriter(conn)
	w.WriteVerb(verb)
	args.Encode(w)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: send %s to %s: %v", ErrConnection, verb, addr, err)
	}

	if reply == nil {
		return nil
	}

	r := NewReader(conn)
	reply.Decode(r)
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: receive %s from %s: %v", ErrConnection, verb, addr, err)
	}

	return nil
}

func (d Dialer) deadline(ctx context.Context) (time.Time, bool) {
	ctxDeadline, hasCtxDeadline := ctx.Deadline()
	if d.IOTimeout <= 0 {
		return ctxDeadline, hasCtxDeadline
	}

	deadline := time.Now().Add(d.IOTimeout)
	if hasCtxDeadline && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	return deadline, true
}

// Handler serves a single exchange. The verb has already been read; the
// handler decodes the request from r and encodes its response to w.
type Handler func(ctx context.Context, verb Verb, r *Reader, w *Writer) error

// Server accepts connections and runs each exchange in its own goroutine.
type Server struct {
	listener  net.Listener
	handler   Handler
	ioTimeout time.Duration
	log       *zap.SugaredLogger

	wg sync.WaitGroup
}

func Listen(addr string, handler Handler, ioTimeout time.Duration, log *zap.SugaredLogger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Server{
		listener:  l,
		handler:   handler,
		ioTimeout: ioTimeout,
		log:       log,
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed or ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}

			s.log.Warnw("accept", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	if s.ioTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))
	}

	r := NewReader(conn)
	w := NewWriter(conn)

	verb := r.ReadVerb()
	if err := r.Err(); err != nil {
		s.log.Debugw("rpc", "conn", connID, "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	if err := s.handler(ctx, verb, r, w); err != nil {
		s.log.Warnw("rpc", "conn", connID, "verb", verb, "error", err)
		return
	}

	if err := w.Flush(); err != nil {
		s.log.Warnw("rpc", "conn", connID, "verb", verb, "error", err)
	}
}
