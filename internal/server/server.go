package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bhakti-db/bhakti/internal/errors"
)

// Config bundles the listener settings.
type Config struct {
	Host        string
	Port        int
	EOF         string
	ReadTimeout time.Duration
	BufferSize  int
}

// Server accepts TCP connections and serves one framed request per
// connection.
type Server struct {
	cfg        Config
	dispatcher *Dispatcher

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// New creates a server around a dispatcher.
func New(cfg Config, dispatcher *Dispatcher) *Server {
	if cfg.EOF == "" {
		cfg.EOF = DefaultEOF
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Server{cfg: cfg, dispatcher: dispatcher}
}

// Addr returns the bound address once ListenAndServe has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the address and blocks until the context is
// cancelled. In-flight connections drain before it returns.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("server listening", slog.String("addr", listener.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		return listener.Close()
	})
	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				s.mu.Lock()
				shutdown := s.shutdown
				s.mu.Unlock()
				if shutdown {
					return nil
				}
				slog.Error("accept error", slog.String("error", err.Error()))
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	})

	err = g.Wait()
	s.wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// handleConnection reads exactly one frame, dispatches it and writes exactly
// one reply, then closes. A read timeout closes the connection without a
// reply.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()
	logger := slog.With(slog.String("conn", connID))

	if s.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			logger.Warn("failed to set read deadline", slog.String("error", err.Error()))
		}
	}

	eof := []byte(s.cfg.EOF)
	payload, err := ReadFrame(conn, eof, s.cfg.BufferSize)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeReadTimeout {
			logger.Warn("read timeout, closing without reply")
			return
		}
		logger.Warn("frame read failed", slog.String("error", err.Error()))
		s.writeReply(conn, logger, Exception(err.Error()))
		return
	}

	logger.Debug("inbound frame", slog.Int("bytes", len(payload)))
	resp := s.dispatcher.Handle(payload)
	s.writeReply(conn, logger, resp)
}

func (s *Server) writeReply(conn net.Conn, logger *slog.Logger, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("reply marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := WriteFrame(conn, data, []byte(s.cfg.EOF)); err != nil {
		logger.Warn("reply write failed", slog.String("error", err.Error()))
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
