// Package httpapi is the request/response fallback used when no socket is
// available: a single POST to {base}/chat/ask/ per user message.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	AskPath        = "/chat/ask/"
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

// ErrRequestFailed wraps every failure returned by Ask.
var ErrRequestFailed = errors.New("http request failed")

// AskRequest is the JSON body posted to the ask endpoint.
type AskRequest struct {
	ThreadID       string `json:"thread_id"`
	CollectionName string `json:"collection_name"`
	Message        string `json:"message"`
}

// AskResponse is the success body of the ask endpoint.
type AskResponse struct {
	Response string `json:"response"`
}

// StatusError reports a non-2xx answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// Unwrap lets errors.Is(err, ErrRequestFailed) hold for status failures.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// RequestError reports a failure before a status code was available. Its
// message is the cause alone so it can be shown to a user as is.
type RequestError struct {
	Msg string
}

func (e *RequestError) Error() string {
	return e.Msg
}

func (e *RequestError) Unwrap() error {
	return ErrRequestFailed
}

func requestFailed(msg string) error {
	return &RequestError{Msg: msg}
}

// Asker performs one request/response exchange.
type Asker interface {
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
}

// Client is the net/http Asker.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ Asker = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full ask URL.
func (c *Client) Endpoint() string {
	return c.baseURL + AskPath
}

func (c *Client) Ask(ctx context.Context, in AskRequest) (AskResponse, error) {
	if c.baseURL == "" {
		return AskResponse{}, requestFailed("http base url is not configured")
	}
	body, err := json.Marshal(in)
	if err != nil {
		return AskResponse{}, requestFailed(err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return AskResponse{}, requestFailed(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return AskResponse{}, requestFailed(err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return AskResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	var out AskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return AskResponse{}, requestFailed("decode response: " + err.Error())
	}
	return out, nil
}
