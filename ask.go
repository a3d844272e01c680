package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/readaloud/readaloud/internal/llm"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:     "ask PROMPT...",
	Short:   "Ask a language model and hear the answer as it streams",
	Long:    paragraph(fmt.Sprintf("\n%s a llama.cpp server or an OpenAI-compatible API. Each sentence is spoken as soon as it arrives.", keyword("Ask"))),
	Example: paragraph("readaloud ask \"What is a goroutine?\"\nreadaloud ask --system \"Answer in one sentence.\" why is the sky blue"),
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		msgs := llm.NewConversation(system).Ask(strings.Join(args, " "))
		if _, err := a.ask(a.ctx, client, msgs, os.Stdout); err != nil {
			fmt.Println()
			_ = a.close(false)
			return err
		}
		fmt.Println()
		return a.finish()
	},
}

func init() {
	askCmd.Flags().String("system", llm.DefaultSystemPrompt, "system prompt")
}
