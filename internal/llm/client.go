// Package llm streams completions from a llama.cpp server or an
// OpenAI-compatible chat API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Provider selects the completion API dialect.
type Provider string

const (
	// ProviderLlama is the llama.cpp /completion endpoint
	ProviderLlama Provider = "llama"

	// ProviderOpenAI is an OpenAI-compatible /v1/chat/completions endpoint
	ProviderOpenAI Provider = "openai"
)

// Defaults.
const (
	DefaultLlamaURL  = "http://localhost:8080/completion"
	DefaultOpenAIURL = "https://api.openai.com/v1/chat/completions"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 500
	DefaultTimeout   = 2 * time.Minute
)

var (
	// ErrMissingAPIKey is returned when the OpenAI provider has no key
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

	// ErrUnknownProvider is returned for an unsupported provider name
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrEmptyResponse is returned when the stream carried no text
	ErrEmptyResponse = errors.New("empty response from language model")
)

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm API returned status %d", e.Code)
	}
	return fmt.Sprintf("llm API returned status %d: %s", e.Code, e.Body)
}

// Config configures a Client.
type Config struct {
	Provider    Provider
	URL         string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *log.Logger
}

// Client streams completions.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Client, error) {
	switch cfg.Provider {
	case "", ProviderLlama:
		cfg.Provider = ProviderLlama
		if cfg.URL == "" {
			cfg.URL = DefaultLlamaURL
		}
	case ProviderOpenAI:
		if cfg.URL == "" {
			cfg.URL = DefaultOpenAIURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultModel
		}
		if cfg.APIKey == "" {
			return nil, ErrMissingAPIKey
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger.WithPrefix("llm"),
	}, nil
}

// Provider returns the configured dialect.
func (c *Client) Provider() Provider {
	return c.cfg.Provider
}

// Stream sends messages and delivers text fragments on out as they arrive.
// out is closed when Stream returns. The full reply is returned; a partial
// reply is returned together with the error that cut it short.
func (c *Client) Stream(ctx context.Context, msgs []Message, out chan<- string) (string, error) {
	defer close(out)

	req, err := c.newRequest(ctx, msgs)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to connect to the llm API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	c.logger.Debug("Connected to llm API", "provider", c.cfg.Provider, "url", c.cfg.URL)

	var reply strings.Builder
	scanner := newSSEScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Done() {
			break
		}
		fragment, stop, err := c.decode(scanner.Data())
		if err != nil {
			c.logger.Warn("Failed to decode stream event", "data", string(scanner.Data()), "error", err)
			continue
		}
		if fragment != "" {
			reply.WriteString(fragment)
			select {
			case out <- fragment:
			case <-ctx.Done():
				return reply.String(), ctx.Err()
			}
		}
		if stop {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reply.String(), ctxErr
		}
		return reply.String(), fmt.Errorf("failed to read llm stream: %w", err)
	}

	if reply.Len() == 0 {
		return "", ErrEmptyResponse
	}
	c.logger.Debug("Completion finished", "chars", reply.Len(), "elapsed", time.Since(start))
	return reply.String(), nil
}

// Complete is Stream without incremental delivery.
func (c *Client) Complete(ctx context.Context, msgs []Message) (string, error) {
	out := make(chan string, 64)
	go func() {
		for range out {
		}
	}()
	reply, err := c.Stream(ctx, msgs, out)
	return strings.TrimSpace(reply), err
}

type llamaRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream"`
}

type llamaEvent struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type openAIEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) newRequest(ctx context.Context, msgs []Message) (*http.Request, error) {
	var temperature *float64
	if c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		temperature = &t
	}

	var body any
	switch c.cfg.Provider {
	case ProviderOpenAI:
		body = openAIRequest{
			Model:       c.cfg.Model,
			Messages:    msgs,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: temperature,
			Stream:      true,
		}
	default:
		body = llamaRequest{
			Prompt:      phi3Prompt(msgs),
			NPredict:    c.cfg.MaxTokens,
			Temperature: temperature,
			Stream:      true,
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid llm URL: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return req, nil
}

// decode extracts the text fragment of one event and whether the server
// signalled the end of the completion.
func (c *Client) decode(data []byte) (string, bool, error) {
	if c.cfg.Provider == ProviderOpenAI {
		var ev openAIEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return "", false, err
		}
		if len(ev.Choices) == 0 {
			return "", false, nil
		}
		choice := ev.Choices[0]
		return choice.Delta.Content, choice.FinishReason != nil && *choice.FinishReason != "", nil
	}

	var ev llamaEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", false, err
	}
	return ev.Content, ev.Stop, nil
}
