package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the service.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatclient: %d %s: %s", e.Status, e.Code, e.Message)
}

// Retryable reports whether the same request may be repeated with the same
// idempotency token.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case "conflict", "transient", "rate_limited":
		return true
	case "validation", "not_found", "forbidden":
		return false
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// SendRequest is the wire body of a send.
type SendRequest struct {
	AuthorID    string       `json:"author_id"`
	Type        string       `json:"type,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Client talks to the room chat HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL. A nil httpClient gets a default
// with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Send posts a comment. token is sent as the Idempotency-Key header.
func (c *Client) Send(ctx context.Context, roomID int64, token string, req SendRequest) (Comment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Comment{}, fmt.Errorf("chatclient: encode send: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/rooms/%d/comments", c.baseURL, roomID), bytes.NewReader(body))
	if err != nil {
		return Comment{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", token)
	httpReq.Header.Set("X-Participant-ID", req.AuthorID)

	var out Comment
	if err := c.do(httpReq, &out); err != nil {
		return Comment{}, err
	}
	return out, nil
}

// List fetches one page of history, newest first.
func (c *Client) List(ctx context.Context, roomID int64, limit, offset int) (Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/rooms/%d/comments?%s", c.baseURL, roomID, q.Encode()), nil)
	if err != nil {
		return Page{}, err
	}
	var out Page
	if err := c.do(httpReq, &out); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("chatclient: decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &body) == nil {
		apiErr.Code, apiErr.Message = body.Code, body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
