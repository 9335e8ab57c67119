// Package client is a minimal RESP client. A Client sends one request at a time and waits for
// its reply, a Pool shares a set of clients between goroutines.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ananthvk/respd/internal/resp"
)

var ErrUnexpectedReply = errors.New("unexpected reply")

// ReplyError is an error reply sent by the server
type ReplyError struct {
	Message string
}

func (e *ReplyError) Error() string {
	return e.Message
}

type Client struct {
	conn    net.Conn
	reader  *resp.Reader
	writer  *bufio.Writer
	timeout time.Duration
	buf     []byte
}

// Dial connects to address. timeout bounds every request that has no earlier context deadline,
// 0 means no timeout.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:    conn,
		reader:  resp.NewReader(conn, 0, resp.DefaultLimits),
		writer:  bufio.NewWriter(conn),
		timeout: timeout,
	}, nil
}

// Do sends a command and returns the reply. Error replies are returned as values, the error is
// only set when the request could not be completed. After an error the client should be closed.
func (c *Client) Do(ctx context.Context, args ...[]byte) (resp.Value, error) {
	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return resp.Value{}, err
	}

	values := make([]resp.Value, len(args))
	for i, arg := range args {
		values[i] = resp.BulkString(arg)
	}
	var err error
	c.buf, err = resp.Append(c.buf[:0], resp.Array(values...))
	if err != nil {
		return resp.Value{}, err
	}
	if _, err := c.writer.Write(c.buf); err != nil {
		return resp.Value{}, err
	}
	if err := c.writer.Flush(); err != nil {
		return resp.Value{}, err
	}
	return c.reader.ReadValue()
}

// Ping sends PING, with message when it is not nil, and checks the reply
func (c *Client) Ping(ctx context.Context, message []byte) (string, error) {
	args := [][]byte{[]byte("PING")}
	if message != nil {
		args = append(args, message)
	}
	reply, err := c.Do(ctx, args...)
	if err != nil {
		return "", err
	}
	return text(reply)
}

// Echo sends ECHO message and returns the reply
func (c *Client) Echo(ctx context.Context, message []byte) ([]byte, error) {
	reply, err := c.Do(ctx, []byte("ECHO"), message)
	if err != nil {
		return nil, err
	}
	if reply.Type == resp.ValueTypeSimpleError {
		return nil, &ReplyError{Message: string(reply.Buffer)}
	}
	if reply.Type != resp.ValueTypeBulkString {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
	}
	return reply.Buffer, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// text returns the payload of a simple or bulk string reply
func text(reply resp.Value) (string, error) {
	switch reply.Type {
	case resp.ValueTypeSimpleString, resp.ValueTypeBulkString:
		return string(reply.Buffer), nil
	case resp.ValueTypeSimpleError:
		return "", &ReplyError{Message: string(reply.Buffer)}
	}
	return "", fmt.Errorf("%w: %s", ErrUnexpectedReply, reply)
}
