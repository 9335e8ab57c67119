package command

import "github.com/ananthvk/respd/internal/resp"

// PING replies PONG, or with its argument as a bulk string when it gets one, like Redis does
func execPing(s Session, args [][]byte) resp.Value {
	switch len(args) {
	case 0:
		return resp.SimpleString("PONG")
	case 1:
		return resp.BulkString(args[0])
	}
	return resp.Error("ERR wrong number of arguments for 'ping' command")
}

func execEcho(s Session, args [][]byte) resp.Value {
	return resp.BulkString(args[0])
}

func execQuit(s Session, args [][]byte) resp.Value {
	s.CloseAfterReply()
	return resp.SimpleString("OK")
}
