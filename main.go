// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/config"
	"github.com/readaloud/readaloud/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	printText  bool

	rootCmd = &cobra.Command{
		Use:   "readaloud [TEXT...]",
		Short: "Read text aloud as it arrives",
		Long: paragraph(
			fmt.Sprintf("\nRead text aloud %s: arguments, piped input or a language model's answer.", keyword("sentence by sentence")),
		),
		Example: paragraph("readaloud \"Hello there.\"\ncurl -s https://example.com/notes.md | readaloud\nreadaloud ask \"Explain goroutines\""),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(utils.ExpandPath(configFile))
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	if debug || env.Debug || viper.GetBool("debug") {
		enableDebugLog()
	}

	if _, err := config.Load(viper.GetViper()); err != nil {
		return err
	}
	return nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func execute(cmd *cobra.Command, args []string) error {
	var src io.Reader
	switch {
	case len(args) == 1 && args[0] == "-":
		src = os.Stdin
	case len(args) > 0:
		src = strings.NewReader(strings.Join(args, " "))
	default:
		// if stdin is a pipe then use stdin for input
		yes, err := stdinIsPipe()
		if err != nil {
			return err
		}
		if !yes {
			return cmd.Help()
		}
		src = os.Stdin
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	if printText || a.muted() {
		out = os.Stdout
	}
	if err := a.speakReader(src, out); err != nil {
		_ = a.close(false)
		return err
	}
	return a.finish()
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	flags.BoolVar(&debug, "debug", false, "log debug output to stderr")
	flags.StringP("engine", "e", "", "speech engine (say, espeak, piper, gtts, mock)")
	flags.String("fallback", "", "engine to switch to when the primary keeps failing")
	flags.IntP("rate", "r", 0, "speaking rate in words per minute")
	flags.StringP("voice", "v", "", "voice name or piper model")
	rootCmd.Flags().BoolVarP(&printText, "print", "p", false, "print the text while speaking it")

	// Config bindings
	_ = viper.BindPFlag("speech.engine", flags.Lookup("engine"))
	_ = viper.BindPFlag("speech.fallback", flags.Lookup("fallback"))
	_ = viper.BindPFlag("speech.rate", flags.Lookup("rate"))
	_ = viper.BindPFlag("speech.voice", flags.Lookup("voice"))
	_ = viper.BindPFlag("debug", flags.Lookup("debug"))

	rootCmd.AddCommand(askCmd, summarizeCmd, chatCmd, doctorCmd, cacheCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	env, err := config.LoadEnv()
	if err != nil {
		log.Warn("Could not parse environment", "err", err)
	}
	dirs, err := config.ConfigDirs(env, os.Getenv("XDG_CONFIG_HOME"))
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	config.SetDefaults(viper.GetViper())
	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], config.AppName+".yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
		return
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		log.Warn("Could not read default configuration", "err", err)
	}
}
