package engines

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell script and returns its path.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitErr(t *testing.T, ch <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for finished callback")
		return nil
	}
}

func TestCommand_SpeaksWithRateAndVoice(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	t.Setenv("ARGS_OUT", out)
	bin := writeScript(t, "fake-espeak", `echo "$@" > "$ARGS_OUT"`)

	c := NewEspeak(bin, "en-us")
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()
	_ = c.SetRate(250)

	done := make(chan error, 1)
	if err := c.Say("Hello there.", func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if err := waitErr(t, done, 5*time.Second); err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if c.Busy() {
		t.Error("Expected idle after the command exited")
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.TrimSpace(string(data)), "-v en-us -s 250 -- Hello there."; got != want {
		t.Errorf("Args = %q, want %q", got, want)
	}
}

func TestCommand_KillStopsProcessGroup(t *testing.T) {
	bin := writeScript(t, "fake-say", "sleep 30")

	c := NewCommand("test", bin, "", func(string, int, string) []string { return nil })
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	if err := c.Say("Long text.", func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if !c.Busy() {
		t.Fatal("Expected busy while the command runs")
	}
	if err := c.Say("Overlap.", func(error) {}); err == nil {
		t.Error("Expected overlapping Say to be rejected")
	}

	start := time.Now()
	if err := c.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := waitErr(t, done, 2*time.Second); err == nil {
		t.Error("Expected killed command to report an error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Kill took %v", elapsed)
	}
	if c.Busy() {
		t.Error("Expected idle after kill")
	}
}

func TestCommand_ExitStatusDeliveredBeforeIdle(t *testing.T) {
	bin := writeScript(t, "fake-espeak", "exit 3")

	c := NewEspeak(bin, "")
	if err := c.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()

	done := make(chan error, 1)
	if err := c.Say("Hello.", func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("Command never exited")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected the non-zero exit status")
		}
	default:
		t.Fatal("Command reported idle before its exit status")
	}
}

func TestCommand_OpenAndClose(t *testing.T) {
	c := NewCommand("missing", "readaloud-no-such-binary", "", nil)
	if err := c.Open(); err == nil {
		t.Error("Expected Open to fail for a missing binary")
	}
	if err := c.Say("text", func(error) {}); err == nil {
		t.Error("Expected Say to fail before Open")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Open(); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := c.Kill(); err != nil {
		t.Errorf("Kill with nothing running should be a no-op, got %v", err)
	}
}

func TestSayArgs(t *testing.T) {
	c := NewSay("Samantha")
	got := strings.Join(c.args("Samantha", 300, "Hi."), " ")
	if want := "-v Samantha -r 300 Hi."; got != want {
		t.Errorf("say args = %q, want %q", got, want)
	}
	got = strings.Join(c.args("", 0, "Hi."), " ")
	if got != "Hi." {
		t.Errorf("Expected bare text without voice and rate, got %q", got)
	}
}
