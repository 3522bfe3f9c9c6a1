package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qtrack/internal/group"
	"qtrack/internal/quarter"
	"qtrack/internal/store"
	"qtrack/internal/tracker"
	"qtrack/internal/types"
)

// Error is a non-success response from the server.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the response code back to the error the server classified, so
// errors.Is behaves the same against a remote tracker as against a local one.
func (e *Error) Unwrap() error {
	if e.Code == CodeStorage {
		return &store.StorageError{Op: "remote", Err: errors.New(e.Message)}
	}
	for _, cs := range codeSentinels {
		if cs.code == e.Code {
			return cs.err
		}
	}
	return nil
}

// envelope mirrors Response with Data left undecoded.
type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client talks to a qtrack server. It satisfies Engine so the CLI can run
// against a remote tracker.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) CurrentQuarter(ctx context.Context) (quarter.Quarter, error) {
	var res QuarterResponse
	if err := c.do(ctx, http.MethodGet, "/api/quarters/current", nil, &res); err != nil {
		return quarter.Quarter{}, err
	}
	return quarter.Parse(res.Label)
}

func (c *Client) Groups(ctx context.Context, kind types.Kind, quarterLabel string) ([]group.Group, error) {
	q := url.Values{"kind": {string(kind)}, "quarter": {quarterLabel}}
	var groups []group.Group
	if err := c.do(ctx, http.MethodGet, "/api/entries?"+q.Encode(), nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) AddEntry(ctx context.Context, req tracker.AddRequest) (*types.Entry, error) {
	var e types.Entry
	if err := c.do(ctx, http.MethodPost, "/api/entries", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) AllocateSequence(ctx context.Context, kind types.Kind, quarterLabel, groupKey string) (int, error) {
	q := url.Values{"kind": {string(kind)}, "quarter": {quarterLabel}, "group": {groupKey}}
	var res SequenceResponse
	if err := c.do(ctx, http.MethodGet, "/api/sequence?"+q.Encode(), nil, &res); err != nil {
		return 0, err
	}
	return res.SequenceNumber, nil
}

// CarryForward returns the partial result alongside the error when the
// server stopped midway.
func (c *Client) CarryForward(ctx context.Context, req tracker.CarryRequest) (*tracker.CarryResult, error) {
	var res *tracker.CarryResult
	err := c.do(ctx, http.MethodPost, "/api/carry-forward", req, &res)
	return res, err
}

func (c *Client) ApplyStatus(ctx context.Context, ids []string, status types.Status, actor string) (*tracker.BatchResult, error) {
	req := StatusRequest{IDs: ids, Status: string(status), Actor: actor}
	if status == types.StatusUnset {
		req.Status = "unset"
	}
	var res *tracker.BatchResult
	err := c.do(ctx, http.MethodPost, "/api/entries/status", req, &res)
	return res, err
}

// do sends body as JSON and decodes the envelope's data into out. Data is
// decoded on error responses too so partial results reach the caller.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}

	if len(env.Data) > 0 && out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("error decoding response data: %w", err)
		}
	}

	if res.StatusCode >= http.StatusBadRequest || !env.Success {
		return &Error{StatusCode: res.StatusCode, Code: env.Code, Message: env.Message}
	}
	return nil
}
