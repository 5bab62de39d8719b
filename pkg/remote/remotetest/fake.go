// Package remotetest provides an in-memory Dialer for exercising sessions without SSH.
package remotetest

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/hostops/csf-unblocker/pkg/remote"
)

// Handler answers one remote command
type Handler func(command string) (remote.CommandResult, error)

// Rule answers commands containing Contains
type Rule struct {
	Contains string
	Result   remote.CommandResult
	Err      error
}

// On answers commands containing substr with stdout
func On(substr, stdout string) Rule {
	return Rule{Contains: substr, Result: remote.CommandResult{Stdout: stdout}}
}

// OnExit answers commands containing substr with an exit status and no output
func OnExit(substr string, status int) Rule {
	return Rule{Contains: substr, Result: remote.CommandResult{ExitStatus: status}}
}

// Fail makes commands containing substr fail at the transport level
func Fail(substr string, err error) Rule {
	return Rule{Contains: substr, Err: err}
}

// Respond builds a Handler from rules; the first match wins and unmatched commands
// behave like a grep that found nothing (empty output, exit 1).
func Respond(rules ...Rule) Handler {
	return func(command string) (remote.CommandResult, error) {
		for _, rule := range rules {
			if strings.Contains(command, rule.Contains) {
				return rule.Result, rule.Err
			}
		}
		return remote.CommandResult{ExitStatus: 1}, nil
	}
}

// Dialer records dials and hands out Conns driven by Handler
type Dialer struct {
	Handler Handler
	DialErr error
	// FailDials limits DialErr to the first FailDials attempts when positive
	FailDials int

	mu       sync.Mutex
	targets  []remote.Target
	keys     [][]byte
	conns    []*Conn
	commands []string
}

// Dial implements remote.Dialer. It reads the key file the way the SSH dialer would.
func (d *Dialer) Dial(ctx context.Context, target remote.Target) (remote.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = append(d.targets, target)
	key, err := os.ReadFile(target.KeyFile)
	if err != nil {
		return nil, err
	}
	d.keys = append(d.keys, key)

	if d.DialErr != nil && (d.FailDials <= 0 || len(d.targets) <= d.FailDials) {
		return nil, d.DialErr
	}

	handler := d.Handler
	if handler == nil {
		handler = Respond()
	}
	c := &Conn{dialer: d, handler: handler}
	d.conns = append(d.conns, c)
	return c, nil
}

// Targets returns every dial target
func (d *Dialer) Targets() []remote.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]remote.Target(nil), d.targets...)
}

// Keys returns the key material read at each dial
func (d *Dialer) Keys() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.keys...)
}

// Dials returns the number of dial attempts
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

// Commands returns every command run across all conns, in order
func (d *Dialer) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Conns returns the conns handed out
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn is a fake transport
type Conn struct {
	dialer  *Dialer
	handler Handler

	mu     sync.Mutex
	closed bool
}

// Run implements remote.Conn
func (c *Conn) Run(ctx context.Context, command string) (remote.CommandResult, error) {
	c.dialer.mu.Lock()
	c.dialer.commands = append(c.dialer.commands, command)
	c.dialer.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return remote.CommandResult{}, err
	}
	return c.handler(command)
}

// Close implements remote.Conn
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
