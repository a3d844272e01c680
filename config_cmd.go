package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Speech output
speech:
  # speech backend: say, espeak, piper, gtts or mock
  # (default: say on macOS, espeak elsewhere)
  # engine: "espeak"
  # backend to switch to after repeated failures
  # fallback: "espeak"
  max_failures: 3
  # words per minute, 80 to 500
  rate: 300
  # voice name; empty uses the backend default
  voice: ""
  # longest utterance in characters
  chunk_size: 250
  # remove markdown syntax before speaking
  strip_markdown: true
  poll_interval: "100ms"
  dequeue_timeout: "1s"
  stop_timeout: "30s"
  # upper bound for one utterance; 0 derives it from the text length
  utterance_timeout: "0s"

espeak:
  binary: "espeak-ng"

piper:
  binary: "piper"
  # model: "/path/to/en_US-lessac-medium.onnx"
  # model_dir: "/usr/share/piper-voices"
  # speaker: "0"
  # sample_rate: 22050

gtts:
  binary: "gtts-cli"
  ffmpeg: "ffmpeg"
  language: "en"
  requests_per_minute: 50

# Synthesized audio cache (piper and gtts)
cache:
  enabled: true
  # dir: "/path/to/cache"
  # megabytes kept in memory
  max_size: 32
  # megabytes kept on disk
  disk_size: 256
  ttl: "168h"

# Language model for ask, chat and summarize
llm:
  # llama (llama.cpp server) or openai; openai reads OPENAI_API_KEY
  provider: "llama"
  # url: "http://localhost:8080/completion"
  # model: "gpt-4o-mini"
  max_tokens: 500
  temperature: 0
  timeout: "2m"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the readaloud config file",
	Long:    paragraph(fmt.Sprintf("\n%s the readaloud config file with $EDITOR. A commented default file is written first if none exists.", keyword("Edit"))),
	Example: paragraph("readaloud config\nreadaloud config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("readaloud", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
