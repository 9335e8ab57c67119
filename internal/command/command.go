package command

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ananthvk/respd/internal/resp"
)

var ErrInvalidRequest = errors.New("invalid request")

// Command is a request split into its name and arguments. Name is always lower case.
type Command struct {
	Name string
	Args [][]byte
}

// Parse builds a command from a request value. A request must be a non empty array of bulk strings.
// The arguments reference the buffers of req.
func Parse(req resp.Value) (Command, error) {
	if req.Type != resp.ValueTypeArray {
		return Command{}, fmt.Errorf("%w: request must be an array of bulk strings, got %s", ErrInvalidRequest, req.Type)
	}
	if len(req.Array) == 0 {
		return Command{}, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	args := make([][]byte, 0, len(req.Array)-1)
	for i, elem := range req.Array {
		if elem.Type != resp.ValueTypeBulkString {
			return Command{}, fmt.Errorf("%w: all array elements must be bulk strings", ErrInvalidRequest)
		}
		if i > 0 {
			args = append(args, elem.Buffer)
		}
	}
	return Command{
		Name: string(bytes.ToLower(req.Array[0].Buffer)),
		Args: args,
	}, nil
}
