package command

import (
	"sort"
	"strings"

	"github.com/ananthvk/respd/internal/resp"
	"go.uber.org/zap"
)

// Session is the view of a connection that command handlers get
type Session interface {
	ID() string
	// CloseAfterReply asks the connection loop to close the connection once the current reply
	// has been written
	CloseAfterReply()
}

// ExecFunc runs a command. args does not include the command name.
type ExecFunc func(s Session, args [][]byte) resp.Value

type command struct {
	executor ExecFunc
	arity    int
}

// Table maps lower case command names to their handlers. Commands must be registered before the
// table is used for dispatching, after that it is only read and can be shared between workers.
type Table struct {
	commands map[string]*command
	logger   *zap.Logger
}

func NewTable(logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		commands: make(map[string]*command),
		logger:   logger,
	}
}

// Default returns a table with the built-in commands registered
func Default(logger *zap.Logger) *Table {
	t := NewTable(logger)
	t.Register("ping", execPing, -1)
	t.Register("echo", execEcho, 2)
	t.Register("quit", execQuit, 1)
	return t
}

// Register adds a command to the table, replacing any command with the same name.
// arity counts the command name too: arity n > 0 means exactly n, n < 0 means at least -n.
// For example the arity of ECHO is 2 and the arity of PING is -1.
func (t *Table) Register(name string, executor ExecFunc, arity int) {
	t.commands[strings.ToLower(name)] = &command{
		executor: executor,
		arity:    arity,
	}
}

// Names returns the registered command names in sorted order
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes req and returns the reply. Every failure is reported as an error value, so
// the connection can keep going.
func (t *Table) Dispatch(s Session, req resp.Value) resp.Value {
	cmd, err := Parse(req)
	if err != nil {
		return resp.Errorf("ERR %s", err)
	}
	return t.Exec(s, cmd)
}

func (t *Table) Exec(s Session, cmd Command) (reply resp.Value) {
	c, ok := t.commands[cmd.Name]
	if !ok {
		return resp.Errorf("ERR unknown command '%s'", sanitize(cmd.Name))
	}
	if !validArity(c.arity, len(cmd.Args)+1) {
		return resp.Errorf("ERR wrong number of arguments for '%s' command", cmd.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("command panicked",
				zap.String("command", cmd.Name),
				zap.String("conn_id", s.ID()),
				zap.Any("panic", r),
			)
			reply = resp.Error("ERR internal error")
		}
	}()
	return c.executor(s, cmd.Args)
}

func validArity(arity, argc int) bool {
	if arity >= 0 {
		return argc == arity
	}
	return argc >= -arity
}

// sanitize keeps a client supplied name from breaking the framing of an error reply
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, name)
}
