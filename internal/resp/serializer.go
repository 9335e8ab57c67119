package resp

import (
	"bufio"
	"bytes"
	"strconv"
)

var crlf = []byte("\r\n")

func AppendSimpleString(dst []byte, buf []byte) ([]byte, error) {
	if bytes.ContainsAny(buf, "\r\n") {
		return dst, ErrInvalidValue
	}
	dst = append(dst, '+')
	dst = append(dst, buf...)
	return append(dst, crlf...), nil
}

func AppendSimpleError(dst []byte, buf []byte) ([]byte, error) {
	if bytes.ContainsAny(buf, "\r\n") {
		return dst, ErrInvalidValue
	}
	dst = append(dst, '-')
	dst = append(dst, buf...)
	return append(dst, crlf...), nil
}

func AppendInteger(dst []byte, value int64) []byte {
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, value, 10)
	return append(dst, crlf...)
}

func AppendBulkString(dst []byte, buf []byte) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(buf)), 10)
	dst = append(dst, crlf...)
	dst = append(dst, buf...)
	return append(dst, crlf...)
}

func AppendNull(dst []byte) []byte {
	return append(dst, "$-1\r\n"...)
}

func AppendArray(dst []byte, values []Value) ([]byte, error) {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(values)), 10)
	dst = append(dst, crlf...)
	var err error
	for _, v := range values {
		if dst, err = Append(dst, v); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// Append appends the wire encoding of value to dst. On error the contents of dst past its
// original length are unspecified.
func Append(dst []byte, value Value) ([]byte, error) {
	switch value.Type {
	case ValueTypeNull:
		return AppendNull(dst), nil
	case ValueTypeSimpleString:
		return AppendSimpleString(dst, value.Buffer)
	case ValueTypeSimpleError:
		return AppendSimpleError(dst, value.Buffer)
	case ValueTypeInteger:
		return AppendInteger(dst, value.Integer), nil
	case ValueTypeBulkString:
		return AppendBulkString(dst, value.Buffer), nil
	case ValueTypeArray:
		return AppendArray(dst, value.Array)
	}
	return dst, ErrInvalidType
}

func Encode(value Value) ([]byte, error) {
	return Append(nil, value)
}

// Serialize writes the encoding of value to w. The value is encoded completely before anything is
// written, so an invalid value never leaves a partial response in w.
func Serialize(value Value, w *bufio.Writer) error {
	buf, err := Encode(value)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
