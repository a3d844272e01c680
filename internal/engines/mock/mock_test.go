package mock

import (
	"errors"
	"testing"
	"time"
)

func TestMockEngine_Say(t *testing.T) {
	e := New()
	e.SetDelay(10 * time.Millisecond)

	if err := e.Say("before open", func(error) {}); err == nil {
		t.Fatal("Expected Say to fail before Open")
	}
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	done := make(chan error, 1)
	if err := e.Say("Hello world.", func(err error) { done <- err }); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if !e.Busy() {
		t.Error("Expected busy while speaking")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Utterance never finished")
	}

	if e.Busy() {
		t.Error("Expected idle after finish")
	}
	if spoken := e.Spoken(); len(spoken) != 1 || spoken[0] != "Hello world." {
		t.Errorf("Unexpected spoken record %q", spoken)
	}
}

func TestMockEngine_Kill(t *testing.T) {
	e := New()
	e.SetHang(true)
	_ = e.Open()

	done := make(chan error, 1)
	_ = e.Say("Forever.", func(err error) { done <- err })

	if err := e.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Errorf("Expected ErrInterrupted, got %v", err)
	}
	if e.Busy() {
		t.Error("Expected idle after kill")
	}
	if e.KillCount() != 1 {
		t.Errorf("Expected 1 kill, got %d", e.KillCount())
	}

	// Nothing playing
	if err := e.Kill(); err != nil {
		t.Fatalf("Second kill failed: %v", err)
	}
	if len(e.Interrupted()) != 1 {
		t.Errorf("Expected one interruption, got %q", e.Interrupted())
	}
}

func TestMockEngine_FailOn(t *testing.T) {
	e := New()
	e.SetDelay(time.Millisecond)
	e.FailOn("bad")
	_ = e.Open()

	done := make(chan error, 1)
	_ = e.Say("a bad line", func(err error) { done <- err })
	if err := <-done; err == nil {
		t.Error("Expected failure for matching text")
	}
	if len(e.Spoken()) != 0 {
		t.Errorf("Failed utterance recorded as spoken")
	}
}

func TestMockEngine_EstimatedDuration(t *testing.T) {
	e := New()
	_ = e.Open()
	_ = e.SetRate(600)

	start := time.Now()
	done := make(chan error, 1)
	_ = e.Say("one two", func(err error) { done <- err })
	<-done

	if elapsed := time.Since(start); elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Errorf("Expected about 200ms for 2 words at 600 wpm, got %v", elapsed)
	}
	if rates := e.Rates(); len(rates) != 1 || rates[0] != 600 {
		t.Errorf("Unexpected rates %v", rates)
	}
}
