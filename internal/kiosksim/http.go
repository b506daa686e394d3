package kiosksim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the service HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a client for baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

// statusError is a non-2xx answer. Code is the service error code when
// the body carried one.
type statusError struct {
	Status int
	Code   string
	Body   []byte
}

func (e *statusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("status %d", e.Status)
}

// do sends body as JSON and decodes a 2xx answer into out. Error answers
// come back as *statusError.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &statusError{Status: resp.StatusCode, Body: data}
		var er errorResponse
		if json.Unmarshal(data, &er) == nil {
			se.Code = er.Code
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Login opens a session for chefID and keeps its token for later calls.
func (c *Client) Login(ctx context.Context, chefID string) (sessionResponse, error) {
	var out sessionResponse
	h := http.Header{}
	h.Set(ChefHeader, chefID)
	if err := c.do(ctx, http.MethodPost, "/sessions", h, struct{}{}, &out); err != nil {
		return out, err
	}
	c.token = out.Token
	return out, nil
}

// Logout closes the session opened by Login.
func (c *Client) Logout(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/sessions", nil, nil, nil)
	c.token = ""
	return err
}

// Today fetches the roster of agencyID.
func (c *Client) Today(ctx context.Context, agencyID string) (todayResponse, error) {
	var out todayResponse
	err := c.do(ctx, http.MethodGet, "/agencies/"+agencyID+"/today", nil, nil, &out)
	return out, err
}

// Attendance fetches what the ledger recorded on date for matricules.
func (c *Client) Attendance(ctx context.Context, date string, matricules []string) (map[string][]ledgerEntry, error) {
	q := "?date=" + date
	for _, m := range matricules {
		q += "&matricule=" + m
	}
	out := map[string][]ledgerEntry{}
	err := c.do(ctx, http.MethodGet, "/attendance"+q, nil, nil, &out)
	return out, err
}

func (c *Client) kiosk(ctx context.Context, kioskID, step string, body, out any) error {
	return c.do(ctx, http.MethodPost, "/kiosks/"+kioskID+"/"+step, nil, body, out)
}
