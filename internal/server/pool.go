package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Pool is a fixed number of workers that serve connections taken from a FIFO queue. A worker
// owns a connection until the connection loop returns, so at most size connections are served at
// once and the rest wait in the queue.
type Pool struct {
	size   int
	queue  chan net.Conn
	handle func(net.Conn)
	logger *zap.Logger

	stopping atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool of size workers with room for queueSize waiting connections. handle is
// called by a worker for every connection it takes, the connection is closed after it returns.
func NewPool(size, queueSize int, handle func(net.Conn), logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		size:   size,
		queue:  make(chan net.Conn, queueSize),
		handle: handle,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.wg.Add(p.size)
	for i := range p.size {
		go p.work(i)
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for conn := range p.queue {
		if p.stopping.Load() {
			p.logger.Debug("closing queued connection, pool is stopping",
				zap.Int("worker", id),
				zap.String("remote_address", conn.RemoteAddr().String()),
			)
			_ = conn.Close()
			continue
		}
		p.serve(id, conn)
	}
}

func (p *Pool) serve(id int, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("connection handler panicked", zap.Int("worker", id), zap.Any("panic", r))
		}
		_ = conn.Close()
	}()
	p.handle(conn)
}

// Submit queues conn for the next free worker. It blocks while the queue is full. If the pool
// is stopped or ctx is done first, conn is closed and the reason is returned.
// Submit must not be called concurrently with Close.
func (p *Pool) Submit(ctx context.Context, conn net.Conn) error {
	if p.stopping.Load() {
		_ = conn.Close()
		return ErrPoolStopped
	}
	select {
	case p.queue <- conn:
		return nil
	case <-p.stop:
		_ = conn.Close()
		return ErrPoolStopped
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// Queued returns the number of connections waiting for a worker
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Stop makes workers close the connections they take from the queue instead of serving them.
// Connections that are already being served are not affected.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)
		close(p.stop)
	})
}

// Close closes the queue, workers exit once it is drained
func (p *Pool) Close() {
	close(p.queue)
}

// Wait blocks until every worker has exited
func (p *Pool) Wait() {
	p.wg.Wait()
}
