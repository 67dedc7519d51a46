// Package shellcmd builds shell command lines from argument templates.
// Every argument is rendered through a Formatter and then quoted on its own,
// so substituted values can never change the shape of the command.
package shellcmd

import (
	"fmt"
	"strings"

	"github.com/alessio/shellescape"
)

// Formatter substitutes placeholders in a template.
type Formatter interface {
	Format(template string) (string, error)
}

type redirect int

const (
	redirectNone redirect = iota
	redirectWrite
	redirectAppend
)

// Command is an argv with optional environment prefix and stdout redirect.
type Command struct {
	Env        [][2]string
	Args       []string
	Target     string
	mode       redirect
	Background bool
}

func New(args ...string) Command {
	return Command{Args: args}
}

// WithEnv prefixes the command with NAME=value assignments.
func (c Command) WithEnv(name, value string) Command {
	c.Env = append(append([][2]string(nil), c.Env...), [2]string{name, value})
	return c
}

func (c Command) RedirectTo(path string) Command {
	c.Target = path
	c.mode = redirectWrite
	return c
}

func (c Command) AppendTo(path string) Command {
	c.Target = path
	c.mode = redirectAppend
	return c
}

// InBackground detaches the command from the session (trailing &), sending
// its output to /dev/null unless redirected.
func (c Command) InBackground() Command {
	c.Background = true
	return c
}

// WriteFile replaces path with content.
func WriteFile(path, content string) Command {
	return New("printf", "%s", content).RedirectTo(path)
}

// AppendLine appends line and a newline to path.
func AppendLine(path, line string) Command {
	return New("printf", "%s\n", line).AppendTo(path)
}

// Render substitutes placeholders in every part and quotes the result.
func (c Command) Render(f Formatter) (string, error) {
	if len(c.Args) == 0 {
		return "", fmt.Errorf("shellcmd: empty command")
	}

	var parts []string
	for _, kv := range c.Env {
		v, err := f.Format(kv[1])
		if err != nil {
			return "", err
		}
		parts = append(parts, kv[0]+"="+shellescape.Quote(v))
	}
	for _, a := range c.Args {
		v, err := f.Format(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, Quote(v))
	}
	if c.mode != redirectNone {
		target, err := f.Format(c.Target)
		if err != nil {
			return "", err
		}
		op := ">"
		if c.mode == redirectAppend {
			op = ">>"
		}
		parts = append(parts, op, shellescape.Quote(target))
	}
	if c.Background {
		// A detached process must not hold the session's output open.
		if c.mode == redirectNone {
			parts = append(parts, ">", "/dev/null")
		}
		parts = append(parts, "2>&1", "&")
	}
	return strings.Join(parts, " "), nil
}

// String renders the command without substitution, for logs.
func (c Command) String() string {
	s, err := c.Render(identity{})
	if err != nil {
		return strings.Join(c.Args, " ")
	}
	return s
}

type identity struct{}

func (identity) Format(s string) (string, error) { return s, nil }

// Quote quotes a single argument for a POSIX shell.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Join quotes and joins args into a command line.
func Join(args ...string) string {
	return shellescape.QuoteCommand(args)
}
