// Package api is the authenticated HTTP client for the chat server: prompt
// submission, conversation history and language definitions.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"nca-go/internal/config"
	"nca-go/internal/logger"
	"nca-go/internal/wire"
)

const (
	chatPath         = "/api/v1/chats/chat"
	conversationPath = "/api/v1/chats/conversations/"
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 4096
)

// Config represents the client configuration.
type Config struct {
	BaseURL      string
	Token        string
	LanguagePath string
	Headers      map[string]string
	// Timeout bounds each non-streaming request. Streams are bounded only by
	// the caller's context.
	Timeout time.Duration
	Retry   *RetryConfig
	Breaker BreakerConfig
	Logger  *logger.Logger
}

// ConfigFromServer builds a client Config from the [server] section. A
// missing token is reported but the returned Config is still usable against
// servers that do not require authentication.
func ConfigFromServer(server *config.ServerConfig) (Config, error) {
	token, err := server.GetToken()
	return Config{
		BaseURL:      server.BaseURL,
		Token:        token,
		LanguagePath: server.LanguagePath,
		Headers:      server.Headers,
		Timeout:      server.RequestTimeout(),
		Retry:        RetryConfigFromServer(server),
		Breaker: BreakerConfig{
			Disabled:            server.Breaker.Disabled,
			ConsecutiveFailures: server.Breaker.ConsecutiveFailures,
			Timeout:             time.Duration(server.Breaker.OpenSeconds) * time.Second,
		},
	}, err
}

// Client talks to the chat server.
type Client struct {
	baseURL      string
	token        string
	languagePath string
	headers      map[string]string
	timeout      time.Duration
	httpClient   *http.Client
	retry        *RetryConfig

	// Separate circuits so a failing language endpoint cannot block history.
	historyBreaker  *gobreaker.CircuitBreaker[[]byte]
	languageBreaker *gobreaker.CircuitBreaker[[]byte]
	log             *logger.Logger
}

// NewClient creates a new client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	languagePath := cfg.LanguagePath
	if languagePath == "" {
		languagePath = "/api/v1/languages"
	}
	log := logger.OrDefault(cfg.Logger).WithComponent("api")

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		languagePath: languagePath,
		headers:      cfg.Headers,
		timeout:      timeout,
		// No client-wide timeout: it would cut off long streams.
		httpClient:      &http.Client{},
		retry:           retry,
		historyBreaker:  newBreaker("nca:history:"+cfg.BaseURL, cfg.Breaker, log),
		languageBreaker: newBreaker("nca:language:"+cfg.BaseURL, cfg.Breaker, log),
		log:             log,
	}
}

// Stream is an open response stream.
type Stream struct {
	Body io.ReadCloser
	// Charset from the Content-Type header, empty when absent.
	Charset string
}

// Submit sends a prompt and returns the event stream. It is never retried:
// the server may already have recorded the prompt.
func (c *Client) Submit(ctx context.Context, prompt, conversationID string) (*Stream, error) {
	q := url.Values{}
	q.Set("prompt", prompt)
	q.Set("conversation_id", conversationID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: "submit", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}

	c.log.Debugf("stream opened for conversation %s", conversationID)
	return &Stream{Body: resp.Body, Charset: charsetOf(resp.Header.Get("Content-Type"))}, nil
}

// History returns the persisted records of a conversation.
func (c *Client) History(ctx context.Context, conversationID string) ([]wire.HistoryRecord, error) {
	data, err := c.get(ctx, c.historyBreaker, "history", conversationPath+url.PathEscape(conversationID)+"/messages", nil)
	if err != nil {
		return nil, err
	}
	records, err := wire.DecodeHistory(data)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", conversationID, err)
	}
	return records, nil
}

// FetchLanguage returns the definition of one highlighting language.
func (c *Client) FetchLanguage(ctx context.Context, name string) ([]byte, error) {
	return c.get(ctx, c.languageBreaker, "language", c.languagePath, url.Values{"name": {name}})
}

// get runs an idempotent GET with retries. Every attempt passes cb, so an
// open circuit ends the retries at once.
func (c *Client) get(ctx context.Context, cb *gobreaker.CircuitBreaker[[]byte], op, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body []byte
	err := ExecuteWithRetry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		body, err = c.execute(cb, func() ([]byte, error) {
			return c.doGet(ctx, op, target)
		})
		return err
	}, IsRetryableError, func(attempt int, err error, wait time.Duration) {
		c.log.WarnFields("retrying request", logger.Fields{
			"op":      op,
			"attempt": attempt,
			"wait":    wait,
			"err":     err,
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) execute(cb *gobreaker.CircuitBreaker[[]byte], fn func() ([]byte, error)) ([]byte, error) {
	if cb == nil {
		return fn()
	}
	data, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s circuit open: %w", cb.Name(), err)
	}
	return data, err
}

func (c *Client) doGet(ctx context.Context, op, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Operation: op, Duration: c.timeout}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readAPIError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, RawBody: string(body)}
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return params["charset"]
}
