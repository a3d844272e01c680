package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/config"
	"github.com/readaloud/readaloud/internal/engines"
	"github.com/readaloud/readaloud/internal/lifecycle"
	"github.com/readaloud/readaloud/internal/llm"
	"github.com/readaloud/readaloud/internal/speech"
	"github.com/spf13/viper"
)

// app wires the configured cache, backend and pipeline for one command.
type app struct {
	cfg      config.Config
	env      config.Env
	cache    *cache.AudioCache
	pipeline *speech.Pipeline
	lm       *lifecycle.Manager
	ctx      context.Context
	silent   bool
	started  time.Time
	logger   *log.Logger
}

func newApp(parent context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	logger := log.Default()
	a := &app{
		cfg:     cfg,
		env:     env,
		lm:      lifecycle.NewManager(cfg.Speech.StopTimeout, logger),
		started: time.Now(),
		logger:  logger,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.ctx = ctx
	go func() {
		select {
		case <-a.lm.ShuttingDown():
			cancel()
		case <-ctx.Done():
		}
	}()

	if cc, ok, err := cfg.CacheOptions(); err != nil {
		logger.Warn("Audio cache disabled", "error", err)
	} else if ok {
		ac, err := cache.New(cc)
		if err != nil {
			logger.Warn("Audio cache disabled", "error", err)
		} else {
			a.cache = ac
			a.lm.Register(lifecycle.NewCloser("audio cache", ac.Close))
		}
	}

	backend, err := engines.New(cfg.EngineOptions(a.cache, logger))
	if err != nil {
		cancel()
		return nil, err
	}

	a.pipeline = speech.NewPipeline(backend, cfg.SpeechOptions(logger))
	a.lm.Register(a.pipeline)

	if err := a.pipeline.Start(); err != nil {
		a.silent = true
		logger.Warn("Speech engine unavailable, continuing without audio", "engine", backend.Name(), "error", err)
		fmt.Fprintln(os.Stderr, warning(fmt.Sprintf("Speech engine %s unavailable, printing text only: %v", backend.Name(), err)))
	}

	a.lm.Start()
	if viper.ConfigFileUsed() != "" {
		config.Watch(viper.GetViper(), a.applyConfig)
	}
	return a, nil
}

// muted reports whether text can only be printed.
func (a *app) muted() bool {
	return a.silent
}

// applyConfig applies settings that can change while running.
func (a *app) applyConfig(cfg config.Config) {
	if cfg.Speech.Rate == a.pipeline.Rate() {
		return
	}
	if err := a.pipeline.SetRate(cfg.Speech.Rate); err != nil {
		a.logger.Warn("Could not apply new rate", "rate", cfg.Speech.Rate, "error", err)
		return
	}
	a.logger.Info("Speech rate changed", "rate", cfg.Speech.Rate)
}

func (a *app) llmClient() (*llm.Client, error) {
	return llm.New(a.cfg.LLMOptions(a.env, a.logger))
}

// speakReader speaks everything read from r, echoing it to echo. It returns
// when r is exhausted or shutdown begins.
func (a *app) speakReader(r io.Reader, echo io.Writer) error {
	stream := a.pipeline.NewStream()
	var dst io.Writer = stream
	if a.silent {
		dst = io.Discard
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.MultiWriter(dst, echo), r)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		_ = stream.Close()
		if err != nil {
			return fmt.Errorf("unable to read input: %w", err)
		}
		a.logger.Debug("Input consumed", "utterances", stream.Count(), "session", stream.Session())
		return nil
	case <-a.ctx.Done():
		_ = stream.Close()
		return nil
	}
}

// speakFragments speaks fragments as they arrive, echoing them to echo, and
// returns the number of utterances queued.
func (a *app) speakFragments(ctx context.Context, fragments <-chan string, echo io.Writer) int {
	spoken := make(chan string)
	go func() {
		defer close(spoken)
		for f := range fragments {
			fmt.Fprint(echo, f)
			if a.silent {
				continue
			}
			select {
			case spoken <- f:
			case <-ctx.Done():
			}
		}
	}()
	return a.pipeline.SubmitStream(ctx, spoken)
}

// ask streams a completion for msgs into the pipeline and returns the reply.
func (a *app) ask(ctx context.Context, client *llm.Client, msgs []llm.Message, echo io.Writer) (string, error) {
	fragments := make(chan string)
	var (
		reply string
		err   error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		reply, err = client.Stream(ctx, msgs, fragments)
	}()

	n := a.speakFragments(ctx, fragments, echo)
	<-done
	a.logger.Debug("Reply queued", "utterances", n, "chars", len(reply))
	return reply, err
}

// finish waits until the backlog is spoken, then shuts everything down.
func (a *app) finish() error {
	if !a.silent {
		if !a.pipeline.Wait(a.ctx) {
			select {
			case <-a.lm.ShuttingDown():
				return a.lm.Wait()
			default:
				return a.close(false)
			}
		}
	}
	return a.close(true)
}

// close stops the pipeline, speaking the backlog first if drain is set, and
// shuts down the remaining components.
func (a *app) close(drain bool) error {
	var stopErr error
	if !a.silent {
		stopErr = a.pipeline.Stop(drain)
	}
	err := errors.Join(stopErr, a.lm.Shutdown())
	a.logStats()
	return err
}

func (a *app) logStats() {
	stats := a.pipeline.Stats()
	a.logger.Debug("Session finished",
		"spoken", humanize.Comma(stats.Worker.Spoken),
		"cancelled", stats.Worker.Cancelled,
		"failed", stats.Worker.Failed,
		"timed_out", stats.Worker.TimedOut,
		"peak_queue", stats.Queue.PeakSize,
		"uptime", humanize.RelTime(a.started, time.Now(), "", ""))
	if a.cache != nil {
		memory, disk := a.cache.Stats()
		a.logger.Debug("Audio cache", "memory", memory.String(), "disk", disk.String())
	}
}
