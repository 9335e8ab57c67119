package resp

import (
	"errors"
	"fmt"
)

var ErrProtocolError = errors.New("protocol error")

// ErrIncomplete is returned when the buffer holds a valid prefix of a value but not the whole
// value. It is not a protocol error, the caller should read more data and try again.
var ErrIncomplete = errors.New("incomplete value")

var ErrUnknownValueType = fmt.Errorf("%w: unknown value type", ErrProtocolError)

var ErrInvalidLength = fmt.Errorf("%w: invalid length", ErrProtocolError)

var ErrInvalidInteger = fmt.Errorf("%w: invalid integer", ErrProtocolError)

// Limit errors leave the stream in a state that cannot be recovered safely, connections
// should be closed after reporting them
var ErrLimitExceeded = fmt.Errorf("%w: limit exceeded", ErrProtocolError)

var ErrTooLarge = fmt.Errorf("%w: bulk string length too large", ErrLimitExceeded)

var ErrTooManyElements = fmt.Errorf("%w: too many array elements", ErrLimitExceeded)

var ErrTooDeep = fmt.Errorf("%w: nesting too deep", ErrLimitExceeded)

var ErrLineTooLong = fmt.Errorf("%w: line too long", ErrLimitExceeded)

var ErrFrameTooLarge = fmt.Errorf("%w: request too large", ErrLimitExceeded)

// Serialization errors

var ErrInvalidValue = errors.New("invalid value: simple strings and errors cannot contain CR or LF")

var ErrInvalidType = errors.New("invalid value type")
