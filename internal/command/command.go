// Package command implements the line-oriented command language shared by
// the interactive shell and the script runner. Commands come from a closed
// table; each one maps its positional arguments onto an engine operation.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
)

var (
	// ErrUnknownCommand is returned for names outside the command table.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrExit is returned by the exit command.
	ErrExit = errors.New("exit")
)

// Arg describes one positional argument for the help text.
type Arg struct {
	Description string
	Required    bool
	Values      []string
}

// Command is an entry of the command table.
type Command struct {
	Name        string
	Description string
	Args        []Arg
	run         func(ctx context.Context, s *Session, args []string) integrity.Result
}

var (
	kindValues   = []string{"file", "table"}
	pluralValues = []string{"files", "tables"}
)

// Commands is the command table in help order.
var Commands = []*Command{
	{
		Name:        "help",
		Description: "show this help",
	},
	{
		Name:        "check",
		Description: "verify the integrity of a file or table",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: kindValues},
			{Description: "file path or table name", Required: true},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Check(ctx, arg(args, 0), arg(args, 1))
		},
	},
	{
		Name:        "full_check",
		Description: "verify every registered file and every table of the connected database",
		run: func(ctx context.Context, s *Session, _ []string) integrity.Result {
			return s.engine.CheckAll(ctx)
		},
	},
	{
		Name:        "db_connect",
		Description: "connect to an external database",
		Args: []Arg{
			{Description: "host", Required: true},
			{Description: "port", Required: true},
			{Description: "database name", Required: true},
			{Description: "user", Required: true},
			{Description: "password", Required: true},
			{Description: "DBMS, inferred from the port when omitted", Values: []string{"mysql", "postgresql"}},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Connect(ctx, model.ConnectParams{
				Host:     arg(args, 0),
				Port:     arg(args, 1),
				Database: arg(args, 2),
				User:     arg(args, 3),
				Password: arg(args, 4),
				DBMS:     arg(args, 5),
			})
		},
	},
	{
		Name:        "db_connect_sqlite",
		Description: "open a SQLite database file as the external database",
		Args: []Arg{
			{Description: "database file path", Required: true},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Connect(ctx, model.ConnectParams{DBMS: "sqlite3", DSN: arg(args, 0)})
		},
	},
	{
		Name:        "add",
		Description: "register a file or table",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: kindValues},
			{Description: "algorithm, see list_algorithms", Required: true},
			{Description: "file path or table name", Required: true},
			{Description: "primary key field of a table, \"id\" when omitted"},
			{Description: "keep a compressed backup of a file", Values: []string{"backup"}},
			{Description: "watch a file for changes", Values: []string{"watch"}},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Add(ctx, arg(args, 0), arg(args, 1), arg(args, 2), addOptions(args[min(len(args), 3):]))
		},
	},
	{
		Name:        "exit",
		Description: "quit",
	},
	{
		Name:        "list_incorrect",
		Description: "list objects that failed verification",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: pluralValues},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.ListIncorrect(ctx, arg(args, 0))
		},
	},
	{
		Name:        "list_algorithms",
		Description: "list the available algorithms",
		run: func(ctx context.Context, s *Session, _ []string) integrity.Result {
			return s.engine.ListAlgorithms(ctx)
		},
	},
	{
		Name:        "list",
		Description: "list registered objects page by page",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: pluralValues},
			{Description: "page number, 1 when omitted"},
			{Description: "page size, " + strconv.Itoa(integrity.DefaultPageSize) + " when omitted"},
			{Description: "only incorrect objects", Values: []string{"incorrect"}},
		},
		run: runList,
	},
	{
		Name:        "watch",
		Description: "turn watching of a registered file on or off",
		Args: []Arg{
			{Description: "file path", Required: true},
			{Description: "state", Required: true, Values: []string{"on", "off"}},
		},
		run: runWatch,
	},
	{
		Name:        "remove",
		Description: "delete the record of a file or table",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: kindValues},
			{Description: "file path or table name", Required: true},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Remove(ctx, arg(args, 0), arg(args, 1))
		},
	},
	{
		Name:        "restore",
		Description: "restore a file from its backup",
		Args: []Arg{
			{Description: "object kind", Required: true, Values: kindValues},
			{Description: "file path or table name", Required: true},
		},
		run: func(ctx context.Context, s *Session, args []string) integrity.Result {
			return s.engine.Restore(ctx, arg(args, 0), arg(args, 1))
		},
	},
}

var byName = func() map[string]*Command {
	m := make(map[string]*Command, len(Commands))
	for _, c := range Commands {
		m[c.Name] = c
	}
	return m
}()

func init() {
	// Help reads the table, so its handler is attached after initialization.
	byName["help"].run = func(context.Context, *Session, []string) integrity.Result {
		return integrity.Result{Message: Help()}
	}
}

// Lookup returns the command called name.
func Lookup(name string) (*Command, bool) {
	c, ok := byName[name]
	return c, ok
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

// addOptions interprets the optional arguments of add. The keywords backup
// and watch may appear in any order; the first other argument names the
// primary key field.
func addOptions(opts []string) integrity.AddOptions {
	var o integrity.AddOptions
	for _, opt := range opts {
		switch {
		case opt == "backup":
			o.Backup = true
		case opt == "watch":
			o.Watch = true
		case o.PKField == "":
			o.PKField = opt
		}
	}
	return o
}

func runList(ctx context.Context, s *Session, args []string) integrity.Result {
	page := integrity.ListPage{Page: 1, PageSize: integrity.DefaultPageSize}
	var numbers []int
	for _, a := range args[min(len(args), 1):] {
		if a == "incorrect" {
			page.OnlyIncorrect = true
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 || len(numbers) == 2 {
			return s.reject(fmt.Sprintf("%q is not a valid argument for %q", a, "list"))
		}
		numbers = append(numbers, n)
	}
	if len(numbers) > 0 {
		page.Page = numbers[0]
	}
	if len(numbers) > 1 {
		page.PageSize = numbers[1]
	}
	return s.engine.List(ctx, arg(args, 0), page)
}

func runWatch(ctx context.Context, s *Session, args []string) integrity.Result {
	path, state := arg(args, 0), arg(args, 1)
	if path == "" || state == "" {
		return s.reject(fmt.Sprintf("insufficient parameters for %q", "watch"))
	}
	switch state {
	case "on":
		return s.engine.SetWatched(ctx, path, true)
	case "off":
		return s.engine.SetWatched(ctx, path, false)
	default:
		return s.reject(fmt.Sprintf("%q is not a valid argument for %q", state, "watch"))
	}
}

// Help renders the command table.
func Help() string {
	lines := []string{
		"command [argument1 argument2...]",
		"help syntax:",
		"- command: description",
		"├- required argument (allowed value/allowed value)",
		"└-[optional argument]",
		strings.Repeat("-", 30),
	}
	for _, c := range Commands {
		lines = append(lines, fmt.Sprintf("- %s: %s", c.Name, c.Description))
		for i, a := range c.Args {
			branch := "├-"
			if i == len(c.Args)-1 {
				branch = "└-"
			}
			text := " " + a.Description
			if !a.Required {
				text = "[" + a.Description + "]"
			}
			line := branch + text
			if len(a.Values) > 0 {
				line += " (" + strings.Join(a.Values, "/") + ")"
			}
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Session executes command lines against one engine. It is not safe for
// concurrent use.
type Session struct {
	engine *integrity.Engine
	failed bool
}

// NewSession creates a Session bound to engine.
func NewSession(engine *integrity.Engine) *Session {
	return &Session{engine: engine}
}

// Failed reports whether any command of the session failed.
func (s *Session) Failed() bool {
	return s.failed || s.engine.Failed()
}

func (s *Session) reject(msg string) integrity.Result {
	s.failed = true
	return integrity.Result{Message: msg, Failed: true}
}

// Execute parses and runs one line. Blank lines return a zero Result.
// Names outside the command table return ErrUnknownCommand, and exit
// returns ErrExit.
func (s *Session) Execute(ctx context.Context, line string) (integrity.Result, error) {
	name, args := ParseLine(line)
	if name == "" {
		return integrity.Result{}, nil
	}

	c, ok := Lookup(name)
	if !ok {
		res := s.reject(fmt.Sprintf("unknown command %q; type \"help\" for the list of commands", name))
		return res, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	if c.Name == "exit" {
		return integrity.Result{}, ErrExit
	}
	return c.run(ctx, s, args), nil
}
