package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// maxOutput bounds the PCM a helper may produce for one utterance.
var maxOutput = 32 << 20

// ErrOutputTooLarge is returned when a helper writes more than maxOutput
// bytes; the helper is killed as soon as the limit is passed.
var ErrOutputTooLarge = errors.New("helper output too large")

// limitedBuffer collects at most limit bytes. The first write past the limit
// fails and closes exceeded.
type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	exceeded chan struct{}
	once     sync.Once
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit, exceeded: make(chan struct{})}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.limit {
		b.once.Do(func() { close(b.exceeded) })
		return 0, ErrOutputTooLarge
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) overflowed() bool {
	select {
	case <-b.exceeded:
		return true
	default:
		return false
	}
}

// runCommand runs name with stdin and returns its stdout. The process group
// is killed as soon as ctx is done.
func runCommand(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.Command(name, args...)
	setProcessGroup(cmd)

	// Pre-configured stdin so the helper never races us for input.
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	cmd.Stdin = stdin

	stdout := newLimitedBuffer(maxOutput)
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if stdout.overflowed() {
			return nil, fmt.Errorf("%s: %w (max %d bytes)", name, ErrOutputTooLarge, maxOutput)
		}
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
		}
	case <-stdout.exceeded:
		_ = killProcessGroup(cmd.Process)
		<-done
		return nil, fmt.Errorf("%s: %w (max %d bytes)", name, ErrOutputTooLarge, maxOutput)
	case <-ctx.Done():
		_ = killProcessGroup(cmd.Process)
		<-done
		return nil, ctx.Err()
	}

	if stdout.buf.Len() == 0 {
		return nil, fmt.Errorf("%s produced no output, stderr: %s", name, strings.TrimSpace(stderr.String()))
	}
	return stdout.buf.Bytes(), nil
}
