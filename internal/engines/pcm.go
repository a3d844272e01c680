package engines

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/audio"
	"github.com/readaloud/readaloud/internal/cache"
	"github.com/readaloud/readaloud/internal/ttypes"
)

// ErrInterrupted is reported to the finished callback of an utterance that
// was interrupted or killed.
var ErrInterrupted = errors.New("utterance interrupted")

// Synthesizer renders text to 16-bit PCM.
type Synthesizer interface {
	// Name identifies the synthesizer in logs and cache keys
	Name() string

	// Check verifies external dependencies
	Check() error

	// Format returns the PCM format Synthesize produces
	Format() audio.Config

	// Synthesize renders text at wpm. It must return promptly when ctx is done.
	Synthesize(ctx context.Context, text string, wpm int) ([]byte, error)
}

// PlayerFactory opens a PCM player for a format.
type PlayerFactory func(audio.Config) (ttypes.PCMPlayer, error)

// DefaultPlayer opens the system audio device.
func DefaultPlayer(cfg audio.Config) (ttypes.PCMPlayer, error) {
	return audio.NewPlayer(cfg)
}

// PCMBackend speaks through a Synthesizer and a PCM player. Synthesis runs
// in the background after Say; Iterate notices when playback has ended.
type PCMBackend struct {
	synth     Synthesizer
	newPlayer PlayerFactory
	cache     *cache.AudioCache
	voice     string
	logger    *log.Logger

	mu     sync.Mutex
	player ttypes.PCMPlayer
	rate   int
	cur    *pcmJob
	closed bool
}

type pcmJob struct {
	cancel   context.CancelFunc
	finished func(error)
	once     sync.Once
	playing  bool
}

func (j *pcmJob) finish(err error) {
	j.once.Do(func() {
		j.cancel()
		j.finished(err)
	})
}

// NewPCMBackend creates a backend around synth. ac may be nil to disable
// caching; newPlayer nil selects the system audio device.
func NewPCMBackend(synth Synthesizer, voice string, ac *cache.AudioCache, newPlayer PlayerFactory, logger *log.Logger) *PCMBackend {
	if newPlayer == nil {
		newPlayer = DefaultPlayer
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PCMBackend{
		synth:     synth,
		newPlayer: newPlayer,
		cache:     ac,
		voice:     voice,
		logger:    logger,
	}
}

// Name returns the synthesizer name.
func (b *PCMBackend) Name() string {
	return b.synth.Name()
}

// Open checks the synthesizer and opens the audio device.
func (b *PCMBackend) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.player != nil {
		return nil
	}
	if err := b.synth.Check(); err != nil {
		return err
	}
	player, err := b.newPlayer(b.synth.Format())
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	b.player = player
	return nil
}

// Say starts synthesizing text and returns immediately.
func (b *PCMBackend) Say(text string, finished func(error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.player == nil {
		return fmt.Errorf("%s backend not opened", b.synth.Name())
	}
	if b.cur != nil {
		return fmt.Errorf("%s is already speaking", b.synth.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &pcmJob{cancel: cancel, finished: finished}
	b.cur = job

	go b.render(ctx, job, text, b.rate)
	return nil
}

func (b *PCMBackend) render(ctx context.Context, job *pcmJob, text string, wpm int) {
	key := cache.Key(b.synth.Name(), b.voice, wpm, text)

	var pcm []byte
	if b.cache != nil {
		if data, level, ok := b.cache.Get(key); ok {
			b.logger.Debug("Audio cache hit", "engine", b.synth.Name(), "level", level)
			pcm = data
		}
	}
	if pcm == nil {
		data, err := b.synth.Synthesize(ctx, text, wpm)
		if err != nil {
			b.end(job, err)
			return
		}
		pcm = data
		if b.cache != nil {
			if err := b.cache.Put(key, pcm); err != nil {
				b.logger.Debug("Audio not cached", "engine", b.synth.Name(), "error", err)
			}
		}
	}

	b.mu.Lock()
	if b.cur != job {
		b.mu.Unlock()
		return
	}
	if err := b.player.Play(pcm); err != nil {
		b.mu.Unlock()
		b.end(job, fmt.Errorf("playback failed: %w", err))
		return
	}
	job.playing = true
	b.mu.Unlock()
}

// end clears job if it is current and reports err.
func (b *PCMBackend) end(job *pcmJob, err error) {
	b.mu.Lock()
	if b.cur == job {
		b.cur = nil
	}
	b.mu.Unlock()
	job.finish(err)
}

// Iterate reports completion once the player has drained.
func (b *PCMBackend) Iterate() error {
	b.mu.Lock()
	job := b.cur
	if job == nil || !job.playing || b.player.IsPlaying() {
		b.mu.Unlock()
		return nil
	}
	b.cur = nil
	b.mu.Unlock()

	job.finish(nil)
	return nil
}

// Busy reports whether an utterance is being synthesized or played.
func (b *PCMBackend) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur != nil
}

// Interrupt stops synthesis and playback of the current utterance.
func (b *PCMBackend) Interrupt() error {
	return b.Kill()
}

// Kill stops the current utterance. It cancels the synthesizer process and
// silences the player, and is safe to call from any goroutine.
func (b *PCMBackend) Kill() error {
	b.mu.Lock()
	job := b.cur
	b.cur = nil
	player := b.player
	b.mu.Unlock()

	if job == nil {
		return nil
	}
	var err error
	if player != nil {
		err = player.Stop()
	}
	job.finish(ErrInterrupted)
	return err
}

// SetRate sets the rate used for the next synthesis.
func (b *PCMBackend) SetRate(wpm int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = wpm
	return nil
}

// Close stops playback and releases the player.
func (b *PCMBackend) Close() error {
	err := b.Kill()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.player != nil {
		err = errors.Join(err, b.player.Close())
		b.player = nil
	}
	return err
}
