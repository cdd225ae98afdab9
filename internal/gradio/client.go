// Package gradio implements the submit/poll call protocol exposed by
// Gradio-hosted synthesis servers. Every logical call is a POST that returns
// an event id followed by a GET that retrieves the result once the job has
// completed.
package gradio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	callPathPrefix = "/gradio_api/call"

	pollInitialInterval = 100 * time.Millisecond
	pollMaxInterval     = 2 * time.Second
)

// errNotReady signals that the server has accepted the job but the result is
// not available yet; the poll loop retries until the step deadline.
var errNotReady = errors.New("result not ready")

// Client drives the two-phase call protocol against one server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger
}

type callEnvelope struct {
	Data []any `json:"data"`
}

type eventEnvelope struct {
	EventID string `json:"event_id"`
}

type resultEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// New returns a client for the server at baseURL. timeout bounds each
// submit call and each complete poll loop.
func New(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		log:     log.With(slog.String("component", "gradio-client")),
	}
}

// Submit starts a job on endpoint and returns its event id.
func (c *Client) Submit(ctx context.Context, endpoint string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(callEnvelope{Data: args})
	if err != nil {
		return "", &ParseError{Msg: "encode call envelope", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s%s/%s", c.baseURL, callPathPrefix, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &NetworkError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("submitting job", slog.String("endpoint", endpoint))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", serverError(resp)
	}

	var event eventEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
		return "", &ParseError{Msg: "decode event envelope", Err: err}
	}
	if event.EventID == "" {
		return "", &ParseError{Msg: "event envelope missing event_id"}
	}
	return event.EventID, nil
}

// Result polls endpoint for the job identified by eventID until the result is
// available, then decodes it into out. Polling backs off exponentially and
// gives up with ErrTimeout once the call deadline passes.
func (c *Client) Result(ctx context.Context, endpoint, eventID string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = pollInitialInterval
	expo.MaxInterval = pollMaxInterval

	raw, err := backoff.Retry(ctx, func() (json.RawMessage, error) {
		raw, err := c.fetchResult(ctx, endpoint, eventID)
		if err != nil && !errors.Is(err, errNotReady) {
			return nil, backoff.Permanent(err)
		}
		return raw, err
	}, backoff.WithBackOff(expo))
	if err != nil {
		if errors.Is(err, errNotReady) || errors.Is(err, context.DeadlineExceeded) {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.DeadlineExceeded) {
				return cause
			}
			return ErrTimeout
		}
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ParseError{Msg: fmt.Sprintf("decode %s result", endpoint), Err: err}
	}
	return nil
}

// Call runs one full submit+poll pair against endpoint.
func (c *Client) Call(ctx context.Context, endpoint string, args []any, out any) error {
	eventID, err := c.Submit(ctx, endpoint, args)
	if err != nil {
		return err
	}
	return c.Result(ctx, endpoint, eventID, out)
}

func (c *Client) fetchResult(ctx context.Context, endpoint, eventID string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s%s/%s/%s", c.baseURL, callPathPrefix, endpoint, eventID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	// The server answers 404 while the job is still queued.
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotReady
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serverError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errNotReady
	}

	var result resultEnvelope
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ParseError{Msg: "decode result envelope", Err: err}
	}
	if len(result.Data) == 0 {
		return nil, errNotReady
	}
	return result.Data, nil
}

// Ping checks that the server root is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &NetworkError{Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return serverError(resp)
	}
	return nil
}

// transportError maps an http.Client failure onto the error taxonomy. A
// deadline hit becomes ErrTimeout; a caller-initiated cancel propagates as is.
func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &NetworkError{Err: err}
}

func serverError(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	if readErr != nil || message == "" {
		message = resp.Status
	}
	return &ServerError{Status: resp.StatusCode, Message: message}
}
