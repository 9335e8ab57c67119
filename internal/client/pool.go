package client

import (
	"context"
	"errors"
	"time"

	"github.com/ananthvk/respd/internal/resp"
	pool "github.com/jolestar/go-commons-pool/v2"
)

type connectionFactory struct {
	address string
	timeout time.Duration
}

func (f *connectionFactory) MakeObject(ctx context.Context) (*pool.PooledObject, error) {
	c, err := Dial(ctx, f.address, f.timeout)
	if err != nil {
		return nil, err
	}
	return pool.NewPooledObject(c), nil
}

func (f *connectionFactory) DestroyObject(ctx context.Context, object *pool.PooledObject) error {
	c, ok := object.Object.(*Client)
	if !ok {
		return errors.New("type mismatch")
	}
	return c.Close()
}

func (f *connectionFactory) ValidateObject(ctx context.Context, object *pool.PooledObject) bool {
	return true
}

func (f *connectionFactory) ActivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

func (f *connectionFactory) PassivateObject(ctx context.Context, object *pool.PooledObject) error {
	return nil
}

// Pool shares up to size connections to one server. Borrowing blocks while all of them are in use.
type Pool struct {
	objects *pool.ObjectPool
}

func NewPool(ctx context.Context, address string, size int, timeout time.Duration) *Pool {
	cfg := pool.NewDefaultPoolConfig()
	cfg.MaxTotal = size
	cfg.MaxIdle = size
	cfg.BlockWhenExhausted = true
	return &Pool{
		objects: pool.NewObjectPool(ctx, &connectionFactory{address: address, timeout: timeout}, cfg),
	}
}

// Do runs a command on a pooled connection. Connections that fail are discarded instead of being
// returned to the pool.
func (p *Pool) Do(ctx context.Context, args ...[]byte) (resp.Value, error) {
	raw, err := p.objects.BorrowObject(ctx)
	if err != nil {
		return resp.Value{}, err
	}
	c, ok := raw.(*Client)
	if !ok {
		return resp.Value{}, errors.New("connection factory made wrong type")
	}

	reply, err := c.Do(ctx, args...)
	if err != nil {
		_ = p.objects.InvalidateObject(ctx, c)
		return resp.Value{}, err
	}
	return reply, p.objects.ReturnObject(ctx, c)
}

// Ping sends PING on a pooled connection
func (p *Pool) Ping(ctx context.Context) error {
	reply, err := p.Do(ctx, []byte("PING"))
	if err != nil {
		return err
	}
	_, err = text(reply)
	return err
}

// Active returns the number of connections currently borrowed
func (p *Pool) Active() int {
	return p.objects.GetNumActive()
}

func (p *Pool) Close(ctx context.Context) {
	p.objects.Close(ctx)
}
