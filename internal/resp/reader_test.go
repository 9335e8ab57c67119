package resp

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns one chunk per call to Read
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func readAll(t *testing.T, r *Reader) []Value {
	t.Helper()
	var values []Value
	for {
		value, err := r.ReadValue()
		if errors.Is(err, io.EOF) {
			return values
		}
		require.NoError(t, err)
		values = append(values, value)
	}
}

const pipelined = "*1\r\n$4\r\nping\r\n" +
	"*2\r\n$4\r\necho\r\n$6\r\nhe\r\ny\x00\r\n" +
	"*0\r\n" +
	"+OK\r\n" +
	"*3\r\n$3\r\nSET\r\n$-1\r\n:12\r\n"

func TestReaderChunkBoundaryIndependence(t *testing.T) {
	input := []byte(pipelined)
	want := readAll(t, NewReader(bytes.NewReader(input), 0, DefaultLimits))
	require.Len(t, want, 5)

	// Split the stream at every position into two chunks
	for i := 1; i < len(input); i++ {
		r := NewReader(&chunkReader{chunks: [][]byte{bytes.Clone(input[:i]), bytes.Clone(input[i:])}}, 0, DefaultLimits)
		got := readAll(t, r)
		require.Len(t, got, len(want), "split at %d", i)
		for j := range want {
			assert.True(t, want[j].Equal(got[j]), "split at %d: value %d = %v, want %v", i, j, got[j], want[j])
		}
	}

	t.Run("one byte at a time", func(t *testing.T) {
		got := readAll(t, NewReader(iotest.OneByteReader(bytes.NewReader(input)), 0, DefaultLimits))
		require.Len(t, got, len(want))
		for j := range want {
			assert.True(t, want[j].Equal(got[j]))
		}
	})

	t.Run("small read size", func(t *testing.T) {
		got := readAll(t, NewReader(bytes.NewReader(input), 3, DefaultLimits))
		require.Len(t, got, len(want))
		for j := range want {
			assert.True(t, want[j].Equal(got[j]))
		}
	})
}

func TestReaderKeepsRemainder(t *testing.T) {
	r := NewReader(strings.NewReader("*1\r\n$4\r\nping\r\n*1\r\n$4"), 0, DefaultLimits)
	value, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, Array(BulkString([]byte("ping"))).Equal(value))
	assert.Equal(t, len("*1\r\n$4"), r.Buffered())

	_, err = r.ReadValue()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""), 0, DefaultLimits)
	_, err := r.ReadValue()
	assert.ErrorIs(t, err, io.EOF)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) { return 0, nil }

func TestReaderZeroByteReadIsClose(t *testing.T) {
	r := NewReader(zeroReader{}, 0, DefaultLimits)
	_, err := r.ReadValue()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReader(io.MultiReader(strings.NewReader("*1\r\n"), iotest.ErrReader(boom)), 0, DefaultLimits)
	_, err := r.ReadValue()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, r.Buffered())
}

func TestReaderDeliversValueBeforeError(t *testing.T) {
	r := NewReader(iotest.DataErrReader(strings.NewReader("+OK\r\n")), 0, DefaultLimits)
	value, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, SimpleString("OK").Equal(value))
	_, err = r.ReadValue()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderResync(t *testing.T) {
	input := "*1\r\n$7\r\nbadcmd\r\n*1\r\n$4\r\nping\r\n"
	r := NewReader(strings.NewReader(input), 0, DefaultLimits)

	_, err := r.ReadValue()
	require.ErrorIs(t, err, ErrProtocolError)

	value, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, Array(BulkString([]byte("ping"))).Equal(value))

	_, err = r.ReadValue()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderResyncWithoutNextRequest(t *testing.T) {
	r := NewReader(strings.NewReader("!garbage\r\n"), 0, DefaultLimits)
	_, err := r.ReadValue()
	require.ErrorIs(t, err, ErrUnknownValueType)
	assert.Zero(t, r.Buffered())
}

func TestReaderLimitDropsBuffer(t *testing.T) {
	limits := DefaultLimits
	limits.MaxBulkLen = 4
	r := NewReader(strings.NewReader("*1\r\n$100\r\n*1\r\n$4\r\nping\r\n"), 0, limits)
	_, err := r.ReadValue()
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Zero(t, r.Buffered())
}

func TestReaderFrameTooLarge(t *testing.T) {
	limits := DefaultLimits
	limits.MaxFrameLen = 32
	input := "*10\r\n" + strings.Repeat("$4\r\nabcd\r\n", 9)
	r := NewReader(strings.NewReader(input), 8, limits)
	_, err := r.ReadValue()
	require.ErrorIs(t, err, ErrFrameTooLarge)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Zero(t, r.Buffered())
}

func TestReaderBeforeRead(t *testing.T) {
	var pending []int
	stop := errors.New("stop")
	stopAt := -1
	r := NewReader(iotest.OneByteReader(strings.NewReader("+OK\r\n+NO")), 0, DefaultLimits)
	r.BeforeRead = func(n int) error {
		pending = append(pending, n)
		if n == stopAt {
			return stop
		}
		return nil
	}

	value, err := r.ReadValue()
	require.NoError(t, err)
	assert.True(t, SimpleString("OK").Equal(value))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, pending)

	pending = nil
	stopAt = 2
	_, err = r.ReadValue()
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []int{0, 1, 2}, pending)
	assert.Equal(t, 2, r.Buffered())
	assert.Equal(t, 2, r.Discard())
}

func TestReaderScansEachByteOnce(t *testing.T) {
	const elements = 40000
	element := "$4\r\nping\r\n"
	input := []byte("*" + strconv.Itoa(elements) + "\r\n" + strings.Repeat(element, elements))

	r := NewReader(bytes.NewReader(input), 512, DefaultLimits)
	reads := 0
	maxUnscanned := 0
	r.BeforeRead = func(pending int) error {
		// Only the element cut by the end of the previous read is left to scan again
		reads++
		maxUnscanned = max(maxUnscanned, pending-r.scan.pos)
		return nil
	}

	value, err := r.ReadValue()
	require.NoError(t, err)
	require.Len(t, value.Array, elements)
	assert.Equal(t, "ping", string(value.Array[elements-1].Buffer))
	assert.GreaterOrEqual(t, reads, len(input)/512)
	assert.Less(t, maxUnscanned, len(element))
}

func TestReaderChunkedArrayAllocations(t *testing.T) {
	const elements = 20000
	input := []byte("*" + strconv.Itoa(elements) + "\r\n" + strings.Repeat("$4\r\nping\r\n", elements))

	allocs := testing.AllocsPerRun(1, func() {
		r := NewReader(bytes.NewReader(input), 512, DefaultLimits)
		if _, err := r.ReadValue(); err != nil {
			t.Fatal(err)
		}
	})
	// One allocation per payload plus a handful for the array and the buffer. Decoding the
	// whole buffer again after every read would allocate for every element each time.
	assert.Less(t, allocs, float64(elements+200))
}

func TestReaderReleasesLargeBuffer(t *testing.T) {
	payload := strings.Repeat("x", 1024*1024)
	input := "$" + strconv.Itoa(len(payload)) + "\r\n" + payload + "\r\n+OK\r\n"
	r := NewReader(strings.NewReader(input), 0, DefaultLimits)

	value, err := r.ReadValue()
	require.NoError(t, err)
	assert.Len(t, value.Buffer, len(payload))

	value, err = r.ReadValue()
	require.NoError(t, err)
	assert.True(t, SimpleString("OK").Equal(value))
	assert.Zero(t, r.Buffered())
	assert.LessOrEqual(t, cap(r.buf), maxIdleBuffer)
}

func TestReaderDiscardReleasesLargeBuffer(t *testing.T) {
	input := "$100000\r\n" + strings.Repeat("x", 90000)
	r := NewReader(strings.NewReader(input), 0, DefaultLimits)
	_, err := r.ReadValue()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	assert.Equal(t, len(input), r.Discard())
	assert.LessOrEqual(t, cap(r.buf), maxIdleBuffer)
}

func TestReaderSkipsRestOfMalformedLine(t *testing.T) {
	ping := Array(BulkString([]byte("ping")))
	tests := []struct {
		name   string
		chunks []string
	}{
		{"line split across reads", []string{"!gar", "bage\r\n", "*1\r\n$4\r\nping\r\n"}},
		{"line split inside CRLF", []string{"!garbage\r", "\n*1\r\n$4\r\nping\r\n"}},
		{"line split three times", []string{"!g", "arba", "ge\r\n*1\r\n$4\r\nping\r\n"}},
		{"whole line before next request", []string{"!garbage\r\n", "*1\r\n$4\r\nping\r\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := make([][]byte, len(tt.chunks))
			for i, chunk := range tt.chunks {
				chunks[i] = []byte(chunk)
			}
			r := NewReader(&chunkReader{chunks: chunks}, 0, DefaultLimits)

			// One error for the malformed line, then the next request
			_, err := r.ReadValue()
			require.ErrorIs(t, err, ErrUnknownValueType)

			value, err := r.ReadValue()
			require.NoError(t, err)
			assert.True(t, ping.Equal(value))

			_, err = r.ReadValue()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}
