package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func collect(t *testing.T, c *Client, msgs []Message) ([]string, string, error) {
	t.Helper()
	out := make(chan string)
	var fragments []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range out {
			fragments = append(fragments, f)
		}
	}()
	reply, err := c.Stream(context.Background(), msgs, out)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Output channel was not closed")
	}
	return fragments, reply, err
}

func TestStream_Llama(t *testing.T) {
	var got llamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completion" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\": \"Hello\"}\n\n")
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"content\": \" world.\"}\n\n")
		fmt.Fprint(w, "data: {\"content\": \"\", \"stop\": true}\n\n")
		fmt.Fprint(w, "data: {\"content\": \"ignored\"}\n\n")
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/completion", Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}

	fragments, reply, err := collect(t, c, NewConversation("").Ask("Hi"))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "Hello world." {
		t.Errorf("Reply = %q", reply)
	}
	if len(fragments) != 2 {
		t.Errorf("Expected 2 fragments, got %v", fragments)
	}

	if !got.Stream || got.NPredict != DefaultMaxTokens {
		t.Errorf("Unexpected request %+v", got)
	}
	want := "<|system|>\nYou are a helpful AI assistant.<|end|>\n<|user|>\nHi<|end|>\n<|assistant|>\n"
	if got.Prompt != want {
		t.Errorf("Prompt = %q, want %q", got.Prompt, want)
	}
}

func TestStream_OpenAI(t *testing.T) {
	var got openAIRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Short\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" answer.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c, err := New(Config{
		Provider:  ProviderOpenAI,
		URL:       srv.URL,
		APIKey:    "sk-test",
		MaxTokens: 150,
		Logger:    log.New(io.Discard),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, reply, err := collect(t, c, SummaryMessages("Some long text."))
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "Short answer." {
		t.Errorf("Reply = %q", reply)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != DefaultModel || got.MaxTokens != 150 || !got.Stream {
		t.Errorf("Unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Errorf("Unexpected messages %+v", got.Messages)
	}
	if !strings.HasSuffix(got.Messages[1].Content, "Some long text.") {
		t.Errorf("Text missing from summary request: %q", got.Messages[1].Content)
	}
}

func TestStream_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "data: {\"content\": \"\", \"stop\": true}\n\n")
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL + "/down", Logger: log.New(io.Discard)})
	_, _, err := collect(t, c, SummaryMessages("x"))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected StatusError 503, got %v", err)
	}
	if !strings.Contains(statusErr.Error(), "model not loaded") {
		t.Errorf("Expected body in error, got %q", statusErr.Error())
	}

	c, _ = New(Config{URL: srv.URL + "/empty", Logger: log.New(io.Discard)})
	if _, _, err := collect(t, c, SummaryMessages("x")); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestStream_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\": \"First.\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL, Logger: log.New(io.Discard)})
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Stream(ctx, NewConversation("").Ask("Go on"), out)
		errCh <- err
	}()

	if f := <-out; f != "First." {
		t.Errorf("Unexpected fragment %q", f)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stream did not stop on cancel")
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"content\": \" Summary here. \"}\n\n")
	}))
	defer srv.Close()

	c, _ := New(Config{URL: srv.URL, Logger: log.New(io.Discard)})
	reply, err := c.Complete(context.Background(), SummaryMessages("x"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Summary here." {
		t.Errorf("Reply = %q", reply)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Provider: ProviderOpenAI}); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := New(Config{Provider: "bard"}); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
	c, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	if c.Provider() != ProviderLlama || c.cfg.URL != DefaultLlamaURL {
		t.Errorf("Unexpected defaults %+v", c.cfg)
	}
}
