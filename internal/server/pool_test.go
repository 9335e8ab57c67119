package server

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipes returns n server side connections and their client ends
func pipes(t *testing.T, n int) ([]net.Conn, []net.Conn) {
	t.Helper()
	servers := make([]net.Conn, n)
	clients := make([]net.Conn, n)
	for i := range n {
		servers[i], clients[i] = net.Pipe()
		t.Cleanup(func() { _ = clients[i].Close() })
	}
	return servers, clients
}

func TestPoolServesEveryConnectionOnceInOrder(t *testing.T) {
	var mu sync.Mutex
	var served []net.Conn
	p := NewPool(1, 16, func(conn net.Conn) {
		mu.Lock()
		served = append(served, conn)
		mu.Unlock()
	}, zaptest.NewLogger(t))
	p.Start()

	conns, _ := pipes(t, 10)
	for _, conn := range conns {
		require.NoError(t, p.Submit(context.Background(), conn))
	}
	p.Close()
	p.Wait()

	assert.Equal(t, conns, served)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 2
	var active, peak atomic.Int32
	var handled atomic.Int32
	release := make(chan struct{})
	p := NewPool(workers, 8, func(conn net.Conn) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		handled.Add(1)
	}, zaptest.NewLogger(t))
	p.Start()

	conns, _ := pipes(t, 5)
	for _, conn := range conns {
		require.NoError(t, p.Submit(context.Background(), conn))
	}

	require.Eventually(t, func() bool { return active.Load() == workers }, time.Second, time.Millisecond)
	assert.Equal(t, 3, p.Queued())

	close(release)
	p.Close()
	p.Wait()

	assert.Equal(t, int32(workers), peak.Load())
	assert.Equal(t, int32(5), handled.Load())
	assert.Zero(t, p.Queued())
}

func TestPoolStopClosesQueuedConnections(t *testing.T) {
	started := make(chan net.Conn, 2)
	release := make(chan struct{})
	p := NewPool(1, 4, func(conn net.Conn) {
		started <- conn
		<-release
	}, zaptest.NewLogger(t))
	p.Start()

	conns, clients := pipes(t, 3)
	require.NoError(t, p.Submit(context.Background(), conns[0]))
	require.NoError(t, p.Submit(context.Background(), conns[1]))
	assert.Equal(t, conns[0], <-started)

	p.Stop()
	assert.ErrorIs(t, p.Submit(context.Background(), conns[2]), ErrPoolStopped)

	close(release)
	p.Close()
	p.Wait()

	// The queued connection was closed without being handled
	assert.Empty(t, started)
	_, err := clients[1].Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestPoolSubmitBlocksWhenFull(t *testing.T) {
	// Workers are never started, so the single queue slot stays taken
	p := NewPool(1, 1, func(net.Conn) {}, zaptest.NewLogger(t))
	conns, clients := pipes(t, 2)
	require.NoError(t, p.Submit(context.Background(), conns[0]))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, conns[1])
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = clients[1].Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background(), conns[1]) }()
	p.Stop()
	assert.ErrorIs(t, <-done, ErrPoolStopped)
}

func TestPoolSurvivesHandlerPanic(t *testing.T) {
	var calls atomic.Int32
	p := NewPool(1, 4, func(conn net.Conn) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, zaptest.NewLogger(t))
	p.Start()

	conns, clients := pipes(t, 2)
	require.NoError(t, p.Submit(context.Background(), conns[0]))
	require.NoError(t, p.Submit(context.Background(), conns[1]))
	p.Close()
	p.Wait()

	assert.Equal(t, int32(2), calls.Load())
	_, err := clients[0].Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}
