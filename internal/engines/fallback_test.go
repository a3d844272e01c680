package engines

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/readaloud/readaloud/internal/engines/mock"
)

func newTestFallback(t *testing.T, maxFailures int) (*Fallback, *mock.MockEngine, *mock.MockEngine) {
	t.Helper()
	primary, secondary := mock.New(), mock.New()
	primary.SetDelay(5 * time.Millisecond)
	secondary.SetDelay(5 * time.Millisecond)
	return NewFallback(primary, secondary, maxFailures, log.New(io.Discard)), primary, secondary
}

func sayAndWait(t *testing.T, f *Fallback, text string) error {
	t.Helper()
	done := make(chan error, 1)
	if err := f.Say(text, func(err error) { done <- err }); err != nil {
		return err
	}
	return waitErr(t, done, 2*time.Second)
}

func TestFallback_OpenFailureSwitches(t *testing.T) {
	f, primary, secondary := newTestFallback(t, 3)
	primary.SetOpenFailure(errors.New("no audio device"))

	if err := f.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !f.UsingFallback() {
		t.Fatal("Expected fallback after primary open failure")
	}
	if err := sayAndWait(t, f, "Hello."); err != nil {
		t.Fatalf("Say failed: %v", err)
	}
	if len(secondary.Spoken()) != 1 || len(primary.Started()) != 0 {
		t.Errorf("Expected speech on the fallback only, primary=%v fallback=%v", primary.Started(), secondary.Spoken())
	}

	_ = f.Close()
	if primary.CloseCount() != 0 {
		t.Error("Unopened primary must not be closed")
	}
	if secondary.CloseCount() != 1 {
		t.Errorf("Expected fallback closed once, got %d", secondary.CloseCount())
	}
}

func TestFallback_BothFailToOpen(t *testing.T) {
	f, primary, secondary := newTestFallback(t, 3)
	primary.SetOpenFailure(errors.New("primary down"))
	secondary.SetOpenFailure(errors.New("fallback down"))

	if err := f.Open(); err == nil {
		t.Fatal("Expected Open to fail when both engines fail")
	}
}

func TestFallback_SwitchesAfterSubmitFailures(t *testing.T) {
	f, primary, secondary := newTestFallback(t, 2)
	if err := f.Open(); err != nil {
		t.Fatal(err)
	}
	primary.SetFailure(errors.New("engine wedged"))

	if err := sayAndWait(t, f, "One."); err == nil {
		t.Error("Expected the first failure to be reported")
	}
	if f.UsingFallback() {
		t.Fatal("Switched too early")
	}

	// The second failure reaches the limit and is retried on the fallback
	if err := sayAndWait(t, f, "Two."); err != nil {
		t.Fatalf("Expected retry on fallback to succeed, got %v", err)
	}
	if !f.UsingFallback() {
		t.Fatal("Expected fallback after reaching the failure limit")
	}
	if f.Name() != "mock" {
		t.Errorf("Unexpected name %q", f.Name())
	}
	if got := secondary.Spoken(); len(got) != 1 || got[0] != "Two." {
		t.Errorf("Expected fallback to speak Two., got %v", got)
	}
}

func TestFallback_SwitchesAfterFinishFailures(t *testing.T) {
	f, primary, _ := newTestFallback(t, 2)
	if err := f.Open(); err != nil {
		t.Fatal(err)
	}
	primary.FailOn("bad")

	for i := 0; i < 2; i++ {
		if err := sayAndWait(t, f, "bad sentence"); err == nil {
			t.Errorf("Expected failure %d reported", i+1)
		}
	}
	if !f.UsingFallback() {
		t.Fatal("Expected fallback after consecutive finish failures")
	}
}

func TestFallback_SuccessResetsFailures(t *testing.T) {
	f, primary, _ := newTestFallback(t, 2)
	if err := f.Open(); err != nil {
		t.Fatal(err)
	}
	primary.FailOn("bad")

	_ = sayAndWait(t, f, "bad one")
	if err := sayAndWait(t, f, "good one"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_ = sayAndWait(t, f, "bad two")
	if f.UsingFallback() {
		t.Error("Failures separated by a success must not trigger the switch")
	}
}

func TestFallback_InterruptedNotCounted(t *testing.T) {
	f, primary, _ := newTestFallback(t, 1)
	if err := f.Open(); err != nil {
		t.Fatal(err)
	}
	primary.SetHang(true)

	done := make(chan error, 1)
	if err := f.Say("Long.", func(err error) { done <- err }); err != nil {
		t.Fatal(err)
	}
	if err := f.Kill(); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if err := waitErr(t, done, time.Second); !errors.Is(err, mock.ErrInterrupted) {
		t.Errorf("Expected interrupted error, got %v", err)
	}
	if f.UsingFallback() {
		t.Error("An interrupted utterance must not count as a failure")
	}
}

func TestFallback_RateCarriedOver(t *testing.T) {
	f, primary, secondary := newTestFallback(t, 1)
	if err := f.Open(); err != nil {
		t.Fatal(err)
	}
	if err := f.SetRate(240); err != nil {
		t.Fatal(err)
	}
	if primary.Rate() != 240 {
		t.Errorf("Expected primary at 240, got %d", primary.Rate())
	}
	if len(secondary.Rates()) != 0 {
		t.Error("Unopened fallback must not receive the rate")
	}

	primary.SetFailure(errors.New("gone"))
	if err := sayAndWait(t, f, "Switch now."); err != nil {
		t.Fatalf("Expected fallback to take over, got %v", err)
	}
	if secondary.Rate() != 240 {
		t.Errorf("Expected rate carried to fallback, got %d", secondary.Rate())
	}
}
