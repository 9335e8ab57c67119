package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/ananthvk/respd/internal/resp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// session is the state of one connection. It is only used by the worker serving the connection.
type session struct {
	id      string
	server  *Server
	conn    net.Conn
	reader  *resp.Reader
	writer  *bufio.Writer
	logger  *zap.Logger
	closing bool

	// inFrame is set when the last read was waiting for the rest of a partial request
	inFrame bool
}

func newSession(s *Server, conn net.Conn) *session {
	sess := &session{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		reader: resp.NewReader(conn, s.cfg.ReadSize, s.cfg.Limits),
		writer: bufio.NewWriter(conn),
	}
	sess.logger = s.logger.With(
		zap.String("conn_id", sess.id),
		zap.String("remote_address", conn.RemoteAddr().String()),
	)
	sess.reader.BeforeRead = sess.armReadDeadline
	return sess
}

func (sess *session) ID() string {
	return sess.id
}

func (sess *session) CloseAfterReply() {
	sess.closing = true
}

// serve runs the connection loop until the client disconnects, an I/O error occurs, the client
// asks to quit or the server shuts down
func (sess *session) serve() {
	for {
		req, err := sess.reader.ReadValue()
		if err != nil {
			if !sess.handleReadError(err) {
				return
			}
			continue
		}

		reply := sess.server.table.Dispatch(sess, req)
		result := "ok"
		if reply.Type == resp.ValueTypeSimpleError {
			result = "error"
		}
		sess.server.metrics.Commands.WithLabelValues(result).Inc()

		if err := sess.write(reply); err != nil {
			sess.logger.Debug("write failed", zap.Error(err))
			return
		}
		if sess.closing || sess.server.closing.Load() {
			return
		}
	}
}

// handleReadError handles an error returned by the reader and reports whether the connection can be
// used for the next request
func (sess *session) handleReadError(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return false
	case errors.Is(err, io.ErrUnexpectedEOF):
		sess.logger.Debug("client disconnected in the middle of a request", zap.Int("buffered", sess.reader.Buffered()))
		return false
	case errors.As(err, &netErr) && netErr.Timeout():
		if !sess.inFrame {
			sess.logger.Debug("idle timeout")
			return false
		}
		n := sess.reader.Discard()
		sess.logger.Debug("incomplete request timed out", zap.Int("discarded", n))
		sess.server.metrics.ProtocolErrors.Inc()
		return sess.write(resp.Error("ERR protocol error: incomplete request")) == nil
	case errors.Is(err, resp.ErrLimitExceeded):
		sess.logger.Warn("protocol limit exceeded, closing connection", zap.Error(err))
		sess.server.metrics.ProtocolErrors.Inc()
		_ = sess.write(errorReply(err))
		return false
	case errors.Is(err, resp.ErrProtocolError):
		sess.logger.Debug("malformed request", zap.Error(err))
		sess.server.metrics.ProtocolErrors.Inc()
		return sess.write(errorReply(err)) == nil
	}
	sess.logger.Warn("read failed", zap.Error(err))
	return false
}

func (sess *session) write(reply resp.Value) error {
	if timeout := sess.server.cfg.WriteTimeout; timeout > 0 {
		if err := sess.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	if err := resp.Serialize(reply, sess.writer); err != nil {
		sess.logger.Error("reply could not be serialized", zap.Error(err), zap.Stringer("reply", reply))
		if err := resp.Serialize(resp.Error("ERR internal error"), sess.writer); err != nil {
			return err
		}
	}
	return sess.writer.Flush()
}

// armReadDeadline is called before every read. The idle timeout applies while no part of a
// request has arrived, the frame timeout once one has.
func (sess *session) armReadDeadline(pending int) error {
	sess.inFrame = pending > 0
	timeout := sess.server.cfg.IdleTimeout
	if sess.inFrame {
		timeout = sess.server.cfg.FrameTimeout
	}
	if timeout <= 0 {
		return sess.conn.SetReadDeadline(time.Time{})
	}
	return sess.conn.SetReadDeadline(time.Now().Add(timeout))
}

func errorReply(err error) resp.Value {
	msg := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, err.Error())
	return resp.Error("ERR " + msg)
}
