package resp

import (
	"bytes"
	"errors"
	"fmt"
)

// Limits bounds the sizes a decoder accepts. Declared lengths are checked against the limits
// before anything is allocated.
type Limits struct {
	MaxBulkLen  int // Maximum length of a single bulk string
	MaxArrayLen int // Maximum number of elements in a single array
	MaxLineLen  int // Maximum length of a line (simple strings, errors, integers, headers)
	MaxDepth    int // Maximum nesting of arrays
	MaxFrameLen int // Maximum number of bytes a Reader buffers for a single incomplete value
}

var DefaultLimits = Limits{
	MaxBulkLen:  16 * 1024 * 1024,
	MaxArrayLen: 1024 * 1024,
	MaxLineLen:  64 * 1024,
	MaxDepth:    32,
	MaxFrameLen: 64 * 1024 * 1024,
}

// Decode decodes a single value from the start of buf using DefaultLimits
func Decode(buf []byte) (Value, int, error) {
	return DefaultLimits.Decode(buf)
}

// Decode decodes a single value from the start of buf. It returns the value and the number of bytes
// consumed. If buf contains only a part of a value, ErrIncomplete is returned and nothing is consumed.
// Payloads are copied, so the returned value does not reference buf.
func (l Limits) Decode(buf []byte) (Value, int, error) {
	s := frameScanner{limits: l}
	end, err := s.next(buf)
	if err != nil {
		return Value{}, 0, err
	}
	b := builder{buf: buf[:end]}
	return b.value(), end, nil
}

// frameScanner finds the end of the value at the start of a buffer without allocating. It checks
// every header, length, CRLF and limit, so a frame it accepts can be built without further checks.
//
// When the buffer ends inside the value, the scanner remembers how far it got and which arrays are
// still open. The next call with the same buffer plus more bytes continues from there, so each byte
// of a frame delivered in many reads is scanned a bounded number of times.
type frameScanner struct {
	limits Limits
	// pos is the offset of the first element that has not been scanned completely
	pos int
	// pending holds the number of elements still expected by each open array, innermost last
	pending []int
}

// next returns the length of the frame at the start of buf. buf must start with the bytes passed
// to the previous call unless that call returned anything other than ErrIncomplete.
func (s *frameScanner) next(buf []byte) (int, error) {
	for {
		if s.pos >= len(buf) {
			return 0, ErrIncomplete
		}
		n, err := s.element(buf[s.pos:])
		if err != nil {
			if !errors.Is(err, ErrIncomplete) {
				s.reset()
			}
			return 0, err
		}
		s.pos += n
		if len(s.pending) == 0 {
			end := s.pos
			s.reset()
			return end, nil
		}
	}
}

func (s *frameScanner) reset() {
	s.pos = 0
	s.pending = s.pending[:0]
}

// element scans one element at the start of rest. Scalars are scanned whole. An array only
// contributes its header, and its elements follow on later calls.
func (s *frameScanner) element(rest []byte) (int, error) {
	switch rest[0] {
	case '+', '-':
		n, err := lineEnd(rest[1:], s.limits.MaxLineLen)
		if err != nil {
			return 0, err
		}
		s.completed()
		return 1 + n + 2, nil
	case ':':
		n, err := lineEnd(rest[1:], s.limits.MaxLineLen)
		if err != nil {
			return 0, err
		}
		if _, ok := parseInt(rest[1 : 1+n]); !ok {
			return 0, fmt.Errorf("%w %q", ErrInvalidInteger, rest[1:1+n])
		}
		s.completed()
		return 1 + n + 2, nil
	case '$':
		return s.bulkString(rest)
	case '*':
		return s.arrayHeader(rest)
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownValueType, rest[0])
}

func (s *frameScanner) bulkString(rest []byte) (int, error) {
	n, length, err := s.length(rest)
	if err != nil {
		return 0, err
	}
	header := 1 + n + 2
	if length == -1 {
		s.completed()
		return header, nil
	}
	if length < 0 {
		return 0, fmt.Errorf("%w %d", ErrInvalidLength, length)
	}
	if length > int64(s.limits.MaxBulkLen) {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, length, s.limits.MaxBulkLen)
	}

	end := header + int(length)
	if len(rest) < end+2 {
		return 0, ErrIncomplete
	}
	if rest[end] != '\r' || rest[end+1] != '\n' {
		return 0, fmt.Errorf("%w: bulk string not terminated by CRLF", ErrProtocolError)
	}
	s.completed()
	return end + 2, nil
}

func (s *frameScanner) arrayHeader(rest []byte) (int, error) {
	if len(s.pending) >= s.limits.MaxDepth {
		return 0, ErrTooDeep
	}
	n, length, err := s.length(rest)
	if err != nil {
		return 0, err
	}
	if length < 0 {
		return 0, fmt.Errorf("%w %d", ErrInvalidLength, length)
	}
	if length > int64(s.limits.MaxArrayLen) {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooManyElements, length, s.limits.MaxArrayLen)
	}
	if length == 0 {
		s.completed()
	} else {
		s.pending = append(s.pending, int(length))
	}
	return 1 + n + 2, nil
}

// length parses the header line of a bulk string or an array
func (s *frameScanner) length(rest []byte) (int, int64, error) {
	n, err := lineEnd(rest[1:], s.limits.MaxLineLen)
	if err != nil {
		return 0, 0, err
	}
	length, ok := parseInt(rest[1 : 1+n])
	if !ok {
		return 0, 0, fmt.Errorf("%w %q", ErrInvalidLength, rest[1:1+n])
	}
	return n, length, nil
}

// completed records that an element of the innermost open array has been scanned. Arrays that
// receive their last element are closed and count as an element of their parent.
func (s *frameScanner) completed() {
	for len(s.pending) > 0 {
		last := len(s.pending) - 1
		s.pending[last]--
		if s.pending[last] > 0 {
			return
		}
		s.pending = s.pending[:last]
	}
}

// lineEnd returns the length of the line at the start of rest, not counting its CRLF
func lineEnd(rest []byte, maxLen int) (int, error) {
	for i, b := range rest {
		if i > maxLen {
			return 0, ErrLineTooLong
		}
		switch b {
		case '\n':
			// \n should not come before \r
			return 0, fmt.Errorf("%w: unexpected LF", ErrProtocolError)
		case '\r':
			if i+1 == len(rest) {
				return 0, ErrIncomplete
			}
			if rest[i+1] != '\n' {
				return 0, fmt.Errorf("%w: expected LF after CR", ErrProtocolError)
			}
			return i, nil
		}
	}
	if len(rest) > maxLen {
		return 0, ErrLineTooLong
	}
	return 0, ErrIncomplete
}

// parseInt parses a base 10 int64 with an optional sign. It accepts the same input as
// strconv.ParseInt(s, 10, 64) without converting b to a string.
func parseInt(b []byte) (int64, bool) {
	neg := false
	if len(b) > 0 && (b[0] == '+' || b[0] == '-') {
		neg = b[0] == '-'
		b = b[1:]
	}
	if len(b) == 0 {
		return 0, false
	}
	const cutoff = uint64(1) << 63
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		if n > cutoff/10 {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
		if n > cutoff {
			return 0, false
		}
	}
	if !neg && n == cutoff {
		return 0, false
	}
	if neg {
		return -int64(n), true
	}
	return int64(n), true
}

// builder builds a value from a frame that has already been accepted by a frameScanner
type builder struct {
	buf []byte
	pos int
}

func (b *builder) value() Value {
	valueTypeByte := b.buf[b.pos]
	b.pos++
	line := b.line()
	switch valueTypeByte {
	case '+':
		return Value{Type: ValueTypeSimpleString, Buffer: bytes.Clone(line)}
	case '-':
		return Value{Type: ValueTypeSimpleError, Buffer: bytes.Clone(line)}
	case ':':
		n, _ := parseInt(line)
		return Value{Type: ValueTypeInteger, Integer: n}
	case '$':
		n, _ := parseInt(line)
		if n == -1 {
			return Value{Type: ValueTypeNull}
		}
		data := b.buf[b.pos : b.pos+int(n)]
		b.pos += int(n) + 2
		return Value{Type: ValueTypeBulkString, Buffer: bytes.Clone(data)}
	default:
		n, _ := parseInt(line)
		// Every element is present in the frame, so the count is bounded by the input
		values := make([]Value, n)
		for i := range values {
			values[i] = b.value()
		}
		return Value{Type: ValueTypeArray, Array: values}
	}
}

func (b *builder) line() []byte {
	rest := b.buf[b.pos:]
	i := bytes.IndexByte(rest, '\r')
	b.pos += i + 2
	return rest[:i]
}
