// Package server accepts RESP connections and serves them with a fixed size pool of workers.
//
// Every accepted connection is queued for the pool. A worker runs the connection loop (read a
// request, dispatch it, write the reply) until the client goes away, and only then takes the next
// connection, which bounds the number of connections served at once by the number of workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ananthvk/respd/internal/command"
	"github.com/ananthvk/respd/internal/resp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Config struct {
	Address   string
	Workers   int
	QueueSize int
	ReadSize  int // size of a single read from a connection

	// IdleTimeout closes connections that send nothing for this long
	IdleTimeout time.Duration
	// FrameTimeout is how long the rest of a partially received request may take to arrive. When
	// it expires the partial request is dropped and the client gets an error reply.
	FrameTimeout time.Duration
	WriteTimeout time.Duration

	// AcceptRate is the number of connections per second a single host may open, 0 disables it
	AcceptRate  float64
	AcceptBurst int

	Limits resp.Limits
}

func DefaultConfig() Config {
	return Config{
		Address:      "127.0.0.1:6379",
		Workers:      4,
		QueueSize:    64,
		ReadSize:     512,
		IdleTimeout:  0,
		FrameTimeout: 5 * time.Second,
		WriteTimeout: 30 * time.Second,
		Limits:       resp.DefaultLimits,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalidConfig, c.Workers)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: queue size cannot be negative, got %d", ErrInvalidConfig, c.QueueSize)
	case c.ReadSize < 0:
		return fmt.Errorf("%w: read size cannot be negative, got %d", ErrInvalidConfig, c.ReadSize)
	case c.IdleTimeout < 0 || c.FrameTimeout < 0 || c.WriteTimeout < 0:
		return fmt.Errorf("%w: timeouts cannot be negative", ErrInvalidConfig)
	case c.AcceptRate < 0 || c.AcceptBurst < 0:
		return fmt.Errorf("%w: accept rate and burst cannot be negative", ErrInvalidConfig)
	case c.Limits.MaxBulkLen <= 0 || c.Limits.MaxArrayLen <= 0 || c.Limits.MaxLineLen <= 0 || c.Limits.MaxDepth <= 0:
		return fmt.Errorf("%w: protocol limits must be positive", ErrInvalidConfig)
	}
	return nil
}

// Server holds everything a running server shares between the accept loop and the workers
type Server struct {
	cfg     Config
	table   *command.Table
	logger  *zap.Logger
	metrics *Metrics
	limiter *acceptLimiter
	pool    *Pool

	mu       sync.Mutex
	listener net.Listener
	closing  atomic.Bool
	sessions sync.Map // *session -> struct{}
}

// New creates a server that dispatches requests with table. A nil logger discards logs and nil
// metrics are registered with a private registry.
func New(cfg Config, table *command.Table, logger *zap.Logger, metrics *Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	s := &Server{
		cfg:     cfg,
		table:   table,
		logger:  logger,
		metrics: metrics,
		limiter: newAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst),
	}
	s.pool = NewPool(cfg.Workers, cfg.QueueSize, s.handle, logger)
	metrics.queued = s.pool.Queued
	return s, nil
}

// ListenAndServe listens on the configured address and serves connections until the server is
// shut down or ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and hands them to the worker pool. Cancelling ctx stops
// accepting, connections that are already queued or being served are finished. It returns nil
// once the listener has been closed by Shutdown or ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing.Load() || s.listener != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.pool.Start()
	s.mu.Unlock()
	defer s.pool.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.logger.Info("server listening",
		zap.String("address", ln.Addr().String()),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("queue_size", s.cfg.QueueSize),
	)

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if retryableAcceptError(err) {
				delay = min(max(2*delay, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		if !s.limiter.Allow(conn.RemoteAddr()) {
			s.metrics.ConnectionsRejected.Inc()
			s.logger.Debug("connection rate limited", zap.String("remote_address", conn.RemoteAddr().String()))
			_ = conn.Close()
			continue
		}
		s.metrics.ConnectionsAccepted.Inc()

		if err := s.pool.Submit(ctx, conn); err != nil {
			s.logger.Debug("connection not queued", zap.Error(err))
			if errors.Is(err, ErrPoolStopped) || ctx.Err() != nil {
				return nil
			}
		}
	}
}

// retryableAcceptError reports whether Accept can succeed when it is called again later. Running
// out of file descriptors or kernel memory clears up as connections are closed.
func retryableAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}

// Addr returns the address the server is listening on, or nil before Serve is called
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and closes connections that are still queued. Connections
// that are being served are closed after their current reply. If ctx is done before every worker
// has finished, the remaining connections are closed forcibly and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		if closeErr := ln.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
	}
	s.pool.Stop()

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
	}

	s.logger.Warn("shutdown deadline exceeded, closing connections")
	s.sessions.Range(func(key, _ any) bool {
		_ = key.(*session).conn.Close()
		return true
	})
	<-done
	return ctx.Err()
}

func (s *Server) handle(conn net.Conn) {
	s.metrics.ConnectionsActive.Inc()
	defer s.metrics.ConnectionsActive.Dec()

	sess := newSession(s, conn)
	s.sessions.Store(sess, struct{}{})
	defer s.sessions.Delete(sess)
	if s.closing.Load() {
		// Shutdown may have already closed the sessions it knew about
		return
	}

	sess.logger.Debug("client connected")
	sess.serve()
	sess.logger.Debug("client disconnected")
}
