package engines

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("backend is closed")

// ArgsFunc builds the command line for one utterance.
type ArgsFunc func(voice string, wpm int, text string) []string

// Command speaks each utterance by running a speech command such as say or
// espeak-ng to completion. Cancelling kills the command's process group.
// The rate is passed on the command line, so changes apply to the next
// utterance.
type Command struct {
	name   string
	binary string
	voice  string
	args   ArgsFunc

	mu     sync.Mutex
	path   string
	rate   int
	cmd    *exec.Cmd
	closed bool
}

// NewCommand creates a backend running binary with args.
func NewCommand(name, binary, voice string, args ArgsFunc) *Command {
	return &Command{
		name:   name,
		binary: binary,
		voice:  voice,
		args:   args,
	}
}

// NewSay creates a backend for the macOS say command.
func NewSay(voice string) *Command {
	return NewCommand("say", "say", voice, func(voice string, wpm int, text string) []string {
		var args []string
		if voice != "" {
			args = append(args, "-v", voice)
		}
		if wpm > 0 {
			args = append(args, "-r", strconv.Itoa(wpm))
		}
		return append(args, text)
	})
}

// NewEspeak creates a backend for espeak-ng.
func NewEspeak(binary, voice string) *Command {
	if binary == "" {
		binary = "espeak-ng"
	}
	return NewCommand("espeak", binary, voice, func(voice string, wpm int, text string) []string {
		var args []string
		if voice != "" {
			args = append(args, "-v", voice)
		}
		if wpm > 0 {
			args = append(args, "-s", strconv.Itoa(wpm))
		}
		// "--" keeps text starting with a dash from being read as a flag
		return append(args, "--", text)
	})
}

// Name returns the backend name.
func (c *Command) Name() string {
	return c.name
}

// Open resolves the binary in PATH.
func (c *Command) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	path, err := exec.LookPath(c.binary)
	if err != nil {
		return fmt.Errorf("%s not found in PATH: %w", c.binary, err)
	}
	c.path = path
	return nil
}

// Say starts the command and returns once it is running. finished receives
// the command's exit status and must not block or call back into c.
func (c *Command) Say(text string, finished func(error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.path == "" {
		return fmt.Errorf("%s backend not opened", c.name)
	}
	if c.cmd != nil {
		return fmt.Errorf("%s is already speaking", c.name)
	}

	cmd := exec.Command(c.path, c.args(c.voice, c.rate, text)...)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", c.binary, err)
	}
	c.cmd = cmd

	go func() {
		err := cmd.Wait()
		// Report the exit status before Busy can observe the command gone.
		c.mu.Lock()
		finished(err)
		if c.cmd == cmd {
			c.cmd = nil
		}
		c.mu.Unlock()
	}()
	return nil
}

// Iterate has nothing to do; the command runs on its own.
func (c *Command) Iterate() error {
	return nil
}

// Busy reports whether the command is still running.
func (c *Command) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd != nil
}

// Interrupt kills the running command.
func (c *Command) Interrupt() error {
	return c.Kill()
}

// Kill kills the running command's process group. It is safe to call from
// any goroutine.
func (c *Command) Kill() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil {
		return nil
	}
	return killProcessGroup(cmd.Process)
}

// SetRate sets the rate used for the next utterance.
func (c *Command) SetRate(wpm int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = wpm
	return nil
}

// Close kills any running command.
func (c *Command) Close() error {
	err := c.Kill()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
