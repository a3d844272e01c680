package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/readaloud/readaloud/internal/llm"
	"github.com/readaloud/readaloud/internal/speech"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const greeting = "System ready"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk with a language model and hear its replies",
	Long: paragraph(fmt.Sprintf("\nStart an %s session. Replies are printed and spoken as they stream in.\n\n"+
		"Commands: rate N, faster, slower, skip, quit. Ctrl+C stops the current reply; pressed again while idle it exits.",
		keyword("interactive chat"))),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		system, _ := cmd.Flags().GetString("system")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		client, err := a.llmClient()
		if err != nil {
			_ = a.close(false)
			return err
		}

		s := &chatSession{
			app:          a,
			client:       client,
			conversation: llm.NewConversation(system),
			in:           os.Stdin,
			out:          os.Stdout,
			interactive:  term.IsTerminal(int(os.Stdin.Fd())),
		}
		a.lm.OnInterrupt(s.interrupt)

		if !a.muted() {
			a.pipeline.Submit(greeting)
		}
		fmt.Fprintf(s.out, "%s %s\n", keyword(greeting), faint(fmt.Sprintf("(%s, %d wpm)", a.cfg.Speech.Engine, a.pipeline.Rate())))

		if err := s.run(); err != nil {
			_ = a.close(false)
			return err
		}
		return a.close(false)
	},
}

func init() {
	chatCmd.Flags().String("system", llm.DefaultSystemPrompt, "system prompt")
}

type chatAction int

const (
	actionPrompt chatAction = iota
	actionNone
	actionQuit
	actionRate
	actionRatePrompt
	actionFaster
	actionSlower
	actionSkip
)

// parseChatInput classifies one line typed at the prompt.
func parseChatInput(line string) (chatAction, int, error) {
	line = strings.TrimSpace(line)
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return actionNone, 0, nil
	}

	switch fields[0] {
	case "quit", "exit":
		if len(fields) == 1 {
			return actionQuit, 0, nil
		}
	case "skip":
		if len(fields) == 1 {
			return actionSkip, 0, nil
		}
	case "faster":
		if len(fields) == 1 {
			return actionFaster, 0, nil
		}
	case "slower":
		if len(fields) == 1 {
			return actionSlower, 0, nil
		}
	case "rate":
		switch len(fields) {
		case 1:
			return actionRatePrompt, 0, nil
		case 2:
			wpm, err := strconv.Atoi(fields[1])
			if err != nil {
				return actionRate, 0, errors.New("invalid input, please enter a number")
			}
			return actionRate, wpm, nil
		}
	}
	return actionPrompt, 0, nil
}

// chatSession is one interactive conversation.
type chatSession struct {
	app          *app
	client       *llm.Client
	conversation *llm.Conversation
	in           io.Reader
	out          io.Writer
	interactive  bool

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

func (s *chatSession) run() error {
	lines := bufio.NewScanner(s.in)
	for {
		s.prompt("You")
		if !s.scan(lines) {
			return lines.Err()
		}

		action, wpm, err := parseChatInput(lines.Text())
		if err != nil {
			fmt.Fprintln(s.out, warning(err.Error()))
			continue
		}

		switch action {
		case actionNone:
		case actionQuit:
			return nil
		case actionSkip:
			s.app.pipeline.Skip()
		case actionFaster, actionSlower:
			s.setRate(speech.NextRate(s.app.pipeline.Rate(), action == actionFaster))
		case actionRatePrompt:
			s.prompt("Enter new speech rate (words per minute)")
			if !s.scan(lines) {
				return lines.Err()
			}
			n, err := strconv.Atoi(strings.TrimSpace(lines.Text()))
			if err != nil {
				fmt.Fprintln(s.out, warning("Invalid input. Please enter a number."))
				continue
			}
			s.setRate(n)
		case actionRate:
			s.setRate(wpm)
		case actionPrompt:
			s.turn(lines.Text())
		}
	}
}

// scan reads the next line unless shutdown begins first.
func (s *chatSession) scan(lines *bufio.Scanner) bool {
	read := make(chan bool, 1)
	go func() { read <- lines.Scan() }()
	select {
	case ok := <-read:
		return ok
	case <-s.app.ctx.Done():
		return false
	}
}

func (s *chatSession) prompt(label string) {
	if s.interactive {
		fmt.Fprint(s.out, prompt(label+": "))
	}
}

func (s *chatSession) setRate(wpm int) {
	if err := s.app.pipeline.SetRate(wpm); err != nil {
		fmt.Fprintln(s.out, warning(err.Error()))
		return
	}
	fmt.Fprintf(s.out, "Speech rate updated to %d words per minute\n", wpm)
}

// turn sends input with the conversation so far and speaks the reply.
func (s *chatSession) turn(input string) {
	ctx, cancel := context.WithCancel(s.app.ctx)
	s.mu.Lock()
	s.cancelTurn = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancelTurn = nil
		s.mu.Unlock()
		cancel()
	}()

	if s.app.pipeline.Speaking() {
		s.app.logger.Debug("Already speaking, cancelling current speech")
		s.app.pipeline.Skip()
	}

	if s.interactive {
		fmt.Fprint(s.out, prompt("Assistant: "))
	}
	reply, err := s.app.ask(ctx, s.client, s.conversation.Ask(input), s.out)
	fmt.Fprintln(s.out)

	switch {
	case errors.Is(err, context.Canceled) && s.app.ctx.Err() == nil:
		// the stream flushes its partial sentence on cancel
		s.app.pipeline.Skip()
		fmt.Fprintln(s.out, faint("(interrupted)"))
	case err != nil:
		s.app.logger.Error("Completion failed", "error", err)
		fmt.Fprintln(s.out, warning("An error occurred: "+err.Error()))
		return
	}
	if reply != "" {
		s.conversation.Record(input, reply)
	}
}

// interrupt handles Ctrl+C: it stops a streaming reply or the speech backlog
// and reports whether there was anything to stop.
func (s *chatSession) interrupt() bool {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()

	stopped := false
	if cancel != nil {
		cancel()
		stopped = true
	}
	if s.app.pipeline.Speaking() {
		s.app.pipeline.Skip()
		stopped = true
	}
	return stopped
}
