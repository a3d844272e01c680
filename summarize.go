package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/readaloud/readaloud/internal/llm"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNothingToSummarize = errors.New("nothing to summarize: the clipboard is empty")

var summarizeCmd = &cobra.Command{
	Use:   "summarize [FILE]",
	Short: "Summarize the clipboard or a file and read the summary aloud",
	Long: paragraph(fmt.Sprintf("\n%s the text on the clipboard, a file, or standard input with a language model, then read the summary aloud.",
		keyword("Summarize"))),
	Example: paragraph("readaloud summarize\nreadaloud summarize notes.md\ngit diff | readaloud summarize -"),
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := summarySource(args)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		client, err := a.llmClient()
		if err != nil {
			_ = a.close(false)
			return err
		}

		fmt.Fprintln(os.Stderr, faint("Generating summary..."))
		summary, err := a.ask(a.ctx, client, llm.SummaryMessages(text), io.Discard)
		if err != nil {
			_ = a.close(false)
			return fmt.Errorf("could not generate summary: %w", err)
		}

		if err := renderMarkdown(os.Stdout, summary); err != nil {
			fmt.Println(strings.TrimSpace(summary))
		}
		return a.finish()
	},
}

// summarySource reads the text to summarize from a file, stdin or the
// clipboard.
func summarySource(args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(args) == 1 && args[0] == "-":
		data, err = io.ReadAll(os.Stdin)
	case len(args) == 1:
		data, err = os.ReadFile(args[0])
	default:
		var text string
		text, err = clipboard.ReadAll()
		data = []byte(text)
	}
	if err != nil {
		return "", fmt.Errorf("unable to read text: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errNothingToSummarize
	}
	return text, nil
}

// renderMarkdown prints text with glamour, wrapped to the terminal width.
func renderMarkdown(w io.Writer, text string) error {
	width := 80
	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if isTerminal {
		if tw, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && tw > 0 {
			width = min(tw, 120)
		}
	}

	style := glamour.WithAutoStyle()
	if !isTerminal {
		style = glamour.WithStandardStyle("notty")
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}
	out, err := r.Render(text)
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}
