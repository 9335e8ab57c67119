package resp

import (
	"bytes"
	"errors"
	"io"
)

const defaultReadSize = 4096

// maxIdleBuffer is the capacity an empty buffer may keep. Larger buffers left behind by a big
// value are released once everything in them has been consumed.
const maxIdleBuffer = 64 * 1024

// Reader reads whole values from a byte stream that may deliver them in arbitrary chunks.
// Bytes past the end of a value are kept for the next call to ReadValue.
type Reader struct {
	rd     io.Reader
	buf    []byte
	chunk  []byte
	limits Limits
	err    error
	scan   frameScanner

	// skipping is set while the rest of a malformed line is still to arrive. Bytes are dropped
	// up to the next LF before decoding continues.
	skipping bool

	// BeforeRead, if set, is called before every read from the underlying reader with the
	// number of bytes currently buffered. An error returned by it is returned from ReadValue.
	BeforeRead func(pending int) error
}

// NewReader returns a reader that reads from rd in chunks of size bytes
func NewReader(rd io.Reader, size int, limits Limits) *Reader {
	if size <= 0 {
		size = defaultReadSize
	}
	return &Reader{
		rd:     rd,
		chunk:  make([]byte, size),
		limits: limits,
		scan:   frameScanner{limits: limits},
	}
}

// ReadValue returns the next value from the stream. It returns io.EOF if the stream ended
// between values and io.ErrUnexpectedEOF if it ended inside one.
//
// On a protocol error the offending bytes are skipped, so the next call can continue with the
// following request. Errors wrapping ErrLimitExceeded drop everything that is buffered.
func (r *Reader) ReadValue() (Value, error) {
	for {
		if r.skipping {
			r.skipLine()
		}
		if len(r.buf) > 0 {
			// The scan continues where the previous read left it, and the value is built only
			// once the whole frame is buffered
			end, err := r.scan.next(r.buf)
			switch {
			case err == nil:
				b := builder{buf: r.buf[:end]}
				value := b.value()
				r.consume(end)
				return value, nil
			case errors.Is(err, ErrIncomplete):
				if r.limits.MaxFrameLen > 0 && len(r.buf) > r.limits.MaxFrameLen {
					r.Discard()
					return Value{}, ErrFrameTooLarge
				}
			case errors.Is(err, ErrLimitExceeded):
				r.Discard()
				return Value{}, err
			default:
				r.resync()
				return Value{}, err
			}
		}

		if r.err != nil {
			return Value{}, r.readErr()
		}
		r.fill()
	}
}

// Buffered returns the number of bytes that have been read from the stream but not consumed yet
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Discard drops all buffered bytes and returns how many were dropped
func (r *Reader) Discard() int {
	n := len(r.buf)
	r.buf = r.buf[:0]
	r.scan.reset()
	r.release()
	return n
}

func (r *Reader) fill() {
	if r.BeforeRead != nil {
		if err := r.BeforeRead(len(r.buf)); err != nil {
			r.err = err
			return
		}
	}
	n, err := r.rd.Read(r.chunk)
	r.buf = append(r.buf, r.chunk[:n]...)
	if n == 0 && err == nil {
		// A read of zero bytes means the peer has closed the connection
		err = io.EOF
	}
	r.err = err
}

func (r *Reader) readErr() error {
	err := r.err
	r.err = nil
	if errors.Is(err, io.EOF) && len(r.buf) > 0 {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (r *Reader) consume(n int) {
	remaining := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remaining]
	r.release()
}

func (r *Reader) release() {
	if len(r.buf) == 0 && cap(r.buf) > max(maxIdleBuffer, len(r.chunk)) {
		r.buf = nil
	}
}

// resync skips the bytes of a malformed value. It looks for the next line that starts with an
// array header, which is how every request begins, and drops everything before it. If there is
// none and the buffer ends inside a line, the rest of that line is dropped as it arrives.
func (r *Reader) resync() {
	idx := bytes.Index(r.buf[1:], []byte("\r\n*"))
	if idx == -1 {
		r.skipping = r.buf[len(r.buf)-1] != '\n'
		r.Discard()
		return
	}
	r.consume(idx + 3)
}

func (r *Reader) skipLine() {
	idx := bytes.IndexByte(r.buf, '\n')
	if idx == -1 {
		r.Discard()
		return
	}
	r.skipping = false
	r.consume(idx + 1)
}
