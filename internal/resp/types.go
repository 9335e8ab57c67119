package resp

import (
	"bytes"
	"fmt"
)

type ValueType int

const (
	// ValueTypeNull is the null bulk string ($-1), it is also the zero value
	ValueTypeNull ValueType = iota
	ValueTypeSimpleString
	ValueTypeSimpleError
	ValueTypeInteger
	ValueTypeBulkString
	ValueTypeArray
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeNull:
		return "null"
	case ValueTypeSimpleString:
		return "simple string"
	case ValueTypeSimpleError:
		return "error"
	case ValueTypeInteger:
		return "integer"
	case ValueTypeBulkString:
		return "bulk string"
	case ValueTypeArray:
		return "array"
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value is a single RESP value. Buffer holds the payload of simple strings, errors and bulk
// strings, Integer holds the payload of integers and Array holds the elements of an array.
type Value struct {
	Type    ValueType
	Buffer  []byte
	Array   []Value
	Integer int64
}

func SimpleString(s string) Value {
	return Value{Type: ValueTypeSimpleString, Buffer: []byte(s)}
}

// Error creates an error value, msg should start with the error prefix, for example "ERR syntax error"
func Error(msg string) Value {
	return Value{Type: ValueTypeSimpleError, Buffer: []byte(msg)}
}

func Errorf(format string, args ...any) Value {
	return Value{Type: ValueTypeSimpleError, Buffer: fmt.Appendf(nil, format, args...)}
}

func Integer(n int64) Value {
	return Value{Type: ValueTypeInteger, Integer: n}
}

func BulkString(b []byte) Value {
	return Value{Type: ValueTypeBulkString, Buffer: b}
}

func Null() Value {
	return Value{Type: ValueTypeNull}
}

func Array(values ...Value) Value {
	return Value{Type: ValueTypeArray, Array: values}
}

// Prefix returns the first word of an error value (upto the first space), for example "ERR".
// It returns nil for every other type.
func (v Value) Prefix() []byte {
	if v.Type != ValueTypeSimpleError {
		return nil
	}
	if idx := bytes.IndexByte(v.Buffer, ' '); idx != -1 {
		return v.Buffer[:idx]
	}
	return v.Buffer
}

// Equal reports whether both values have the same type and payload. Nil and empty
// buffers or arrays are considered equal.
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValueTypeNull:
		return true
	case ValueTypeInteger:
		return v.Integer == other.Integer
	case ValueTypeArray:
		if len(v.Array) != len(other.Array) {
			return false
		}
		for i := range v.Array {
			if !v.Array[i].Equal(other.Array[i]) {
				return false
			}
		}
		return true
	default:
		return bytes.Equal(v.Buffer, other.Buffer)
	}
}

func (v Value) String() string {
	switch v.Type {
	case ValueTypeNull:
		return "(nil)"
	case ValueTypeInteger:
		return fmt.Sprintf("(integer) %d", v.Integer)
	case ValueTypeSimpleError:
		return fmt.Sprintf("(error) %s", v.Buffer)
	case ValueTypeBulkString:
		return fmt.Sprintf("%q", v.Buffer)
	case ValueTypeArray:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, elem := range v.Array {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(elem.String())
		}
		b.WriteByte(']')
		return b.String()
	}
	return string(v.Buffer)
}
