// Package client talks to a running vecarvs server.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/lazypower/vecarvs/internal/api"
	"github.com/lazypower/vecarvs/internal/ledger"
)

const httpTimeout = 10 * time.Second

// Error is a non-2xx response. It unwraps to the matching ledger sentinel
// when the server reports one.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return sentinels[e.Code]
}

var sentinels = map[string]error{}

func init() {
	for _, err := range ledger.Errors {
		sentinels[err.Error()] = err
	}
}

// Client talks to the vecarvs server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for serverURL. VECARVS_URL overrides it when set.
func New(serverURL string) *Client {
	if v := os.Getenv("VECARVS_URL"); v != "" {
		serverURL = v
	}
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: serverURL,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.serverURL
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		js, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(js)
	}

	req, err := http.NewRequest(method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &Error{Status: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
		var e api.Error
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Code = e.Code
			apiErr.Message = e.Error
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) Health() (*api.Health, error) {
	var h api.Health
	if err := c.do(http.MethodGet, "/api/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Lock opens a position. amount is in base units.
func (c *Client) Lock(identity, amount string, duration uint64) (*api.Position, error) {
	var pos api.Position
	req := api.LockRequest{Identity: identity, Amount: amount, Duration: duration}
	if err := c.do(http.MethodPost, "/api/locks", req, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Client) Release(identity string, positionID uint64) (*api.Position, error) {
	var pos api.Position
	path := "/api/locks/" + strconv.FormatUint(positionID, 10) + "/release"
	if err := c.do(http.MethodPost, path, api.ReleaseRequest{Identity: identity}, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Client) Position(positionID uint64) (*api.Position, error) {
	var pos api.Position
	if err := c.do(http.MethodGet, "/api/locks/"+strconv.FormatUint(positionID, 10), nil, &pos); err != nil {
		return nil, err
	}
	return &pos, nil
}

func (c *Client) Positions(identity string) ([]api.Position, error) {
	var out []api.Position
	if err := c.do(http.MethodGet, "/api/identities/"+url.PathEscape(identity)+"/locks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Balance returns identity's voting balance at ts; zero ts means now.
func (c *Client) Balance(identity string, ts uint64) (*api.Balance, error) {
	var out api.Balance
	path := "/api/identities/" + url.PathEscape(identity) + "/balance" + atQuery(ts)
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supply returns the total voting balance at ts; zero ts means now.
func (c *Client) Supply(ts uint64) (*api.Supply, error) {
	var out api.Supply
	if err := c.do(http.MethodGet, "/api/supply"+atQuery(ts), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkpoint advances identity's line, or the global line when identity is
// empty.
func (c *Client) Checkpoint(identity string) (*api.CheckpointResult, error) {
	path := "/api/checkpoint"
	if identity != "" {
		path = "/api/identities/" + url.PathEscape(identity) + "/checkpoint"
	}
	var out api.CheckpointResult
	if err := c.do(http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Checkpoints lists identity's materialized points, or the global line's
// when identity is empty.
func (c *Client) Checkpoints(identity string) ([]api.Point, error) {
	path := "/api/checkpoints"
	if identity != "" {
		path = "/api/identities/" + url.PathEscape(identity) + "/checkpoints"
	}
	var out []api.Point
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Account(identity string) (*api.Account, error) {
	var out api.Account
	if err := c.do(http.MethodGet, "/api/accounts/"+url.PathEscape(identity), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Credit(identity, amount string) (*api.Account, error) {
	var out api.Account
	path := "/api/accounts/" + url.PathEscape(identity) + "/credit"
	if err := c.do(http.MethodPost, path, api.CreditRequest{Amount: amount}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events pages through the committed event log.
func (c *Client) Events(after int64, identity string, limit int) ([]api.EventEntry, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if identity != "" {
		q.Set("identity", identity)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []api.EventEntry
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func atQuery(ts uint64) string {
	if ts == 0 {
		return ""
	}
	return "?at=" + strconv.FormatUint(ts, 10)
}

// IsUnavailable reports whether err means the server could not be reached.
func IsUnavailable(err error) bool {
	var apiErr *Error
	return err != nil && !errors.As(err, &apiErr)
}
