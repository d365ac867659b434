// Package console reads interactive answers from the user. Every read is
// wrapped by a timeout.Executor so that no prompt can block forever.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/skillsmith/skillsmith/pkg/timeout"
)

// ErrClosed is returned when the input stream ends before an answer is read.
var ErrClosed = errors.New("input closed")

// Prompter is the read side used by the wizard, the gate and the collision
// resolver.
type Prompter interface {
	Ask(ctx context.Context, prompt string) (string, error)
	ReadBlock(ctx context.Context, prompt, terminator string) (string, error)
	Timeout() time.Duration
}

// Console prompts on out and reads lines from in.
type Console struct {
	in       *bufio.Reader
	out      io.Writer
	executor timeout.Executor
	timeout  time.Duration
}

// Option configures a Console.
type Option func(*Console)

// WithTimeout sets the per-prompt deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExecutor overrides the executor chosen from the input's capabilities.
func WithExecutor(e timeout.Executor) Option {
	return func(c *Console) {
		c.executor = e
	}
}

// New creates a Console. The timeout strategy is selected from in.
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:       bufio.NewReader(in),
		out:      out,
		executor: timeout.NewExecutor(in),
		timeout:  timeout.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the per-prompt deadline.
func (c *Console) Timeout() time.Duration {
	return c.timeout
}

// Ask prints prompt and returns the next line with surrounding whitespace
// removed.
func (c *Console) Ask(ctx context.Context, prompt string) (string, error) {
	c.prompt(prompt)

	line, err := c.executor.Run(ctx, c.timeout, func(context.Context) (string, error) {
		return c.readLine()
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadBlock prints prompt and collects lines until a line equal to terminator
// is read. The whole block shares a single deadline. The returned text has no
// trailing newline.
func (c *Console) ReadBlock(ctx context.Context, prompt, terminator string) (string, error) {
	c.prompt(prompt)

	return c.executor.Run(ctx, c.timeout, func(context.Context) (string, error) {
		var lines []string
		for {
			line, err := c.readLine()
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(line) == terminator {
				return strings.Join(lines, "\n"), nil
			}
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
	})
}

func (c *Console) prompt(prompt string) {
	if prompt == "" {
		return
	}
	color.New(color.FgCyan).Fprint(c.out, prompt)
	if !strings.HasSuffix(prompt, " ") && !strings.HasSuffix(prompt, "\n") {
		fmt.Fprint(c.out, " ")
	}
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err == nil {
		return line, nil
	}
	if errors.Is(err, io.EOF) {
		if line != "" {
			return line, nil
		}
		return "", ErrClosed
	}
	return "", err
}
