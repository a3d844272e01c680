package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/config"
	"github.com/readaloud/readaloud/internal/engines"
	"github.com/readaloud/readaloud/internal/llm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check speech backends, configuration and paths",
	Long:  paragraph(fmt.Sprintf("\n%s which speech programs are installed and show the settings readaloud would use.", keyword("Check"))),
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}
		return writeReport(os.Stdout, cfg, env)
	},
}

func mark(ok bool) string {
	if ok {
		return okMark
	}
	return failMark
}

func writeReport(w io.Writer, cfg config.Config, env config.Env) error {
	row := func(label, value string) {
		fmt.Fprintf(w, "  %-12s %s\n", label, value)
	}

	fmt.Fprintln(w, heading("Speech"))
	engine := cfg.Speech.Engine
	if engine == "" {
		engine = string(engines.DefaultEngine())
	}
	_, engineErr := engines.New(cfg.EngineOptions(nil, nil))
	status := mark(engineErr == nil) + " " + engine
	if engineErr != nil {
		status += " " + faint(engineErr.Error())
	}
	row("engine", status)
	if cfg.Speech.Fallback != "" {
		row("fallback", fmt.Sprintf("%s after %d failures", cfg.Speech.Fallback, cfg.Speech.MaxFailures))
	}
	row("rate", fmt.Sprintf("%d wpm", cfg.Speech.Rate))
	if cfg.Speech.Voice != "" {
		row("voice", cfg.Speech.Voice)
	}

	fmt.Fprintln(w, heading("Programs"))
	for _, dep := range engines.Dependencies(cfg.EngineOptions(nil, nil)) {
		where := faint("not found")
		if dep.Found() {
			where = dep.Path
		}
		fmt.Fprintf(w, "  %s %-10s %-10s %s\n", mark(dep.Found()), dep.Binary, dep.Engine, where)
	}

	fmt.Fprintln(w, heading("Language model"))
	lc := cfg.LLMOptions(env, nil)
	_, llmErr := llm.New(lc)
	url := lc.URL
	if url == "" {
		url = llm.DefaultLlamaURL
		if lc.Provider == llm.ProviderOpenAI {
			url = llm.DefaultOpenAIURL
		}
	}
	status = mark(llmErr == nil) + " " + cfg.LLM.Provider
	if llmErr != nil {
		status += " " + faint(llmErr.Error())
	}
	row("provider", status)
	row("url", url)

	fmt.Fprintln(w, heading("Paths"))
	cf := viper.ConfigFileUsed()
	if cf == "" {
		cf = faint("none")
	}
	row("config", cf)
	if lp, err := getLogFilePath(); err == nil {
		row("log", lp)
	}
	cacheReport(w, cfg, row)
	return nil
}

func cacheReport(w io.Writer, cfg config.Config, row func(string, string)) {
	cc, ok, err := cfg.CacheOptions()
	switch {
	case err != nil:
		row("cache", failMark+" "+faint(err.Error()))
		return
	case !ok:
		row("cache", faint("disabled"))
		return
	case cc.Dir == "":
		row("cache", "memory only")
		return
	}
	row("cache", cc.Dir)

	ac, err := cache.New(cc)
	if err != nil {
		row("", failMark+" "+faint(err.Error()))
		return
	}
	defer func() { _ = ac.Close() }()
	_, disk := ac.Stats()
	row("", strings.TrimSpace(disk.String()))
	fmt.Fprintln(w)
}
