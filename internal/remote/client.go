// Package remote is the REST/JSON client for the backend authority: per
// collection CRUD under /api/{collection} and the bulk sync endpoints under
// /api/sync.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// IdempotencyKeyHeader carries the temporary id of a record being created.
// The server may use it to drop a replayed POST; the client never relies on it.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 32 << 20

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. No timeout is layered on
// top of the one the supplied client carries.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger. Nil means slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client rooted at baseURL (scheme and host, optionally a
// path prefix in front of /api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", types.ErrAPIBaseURLInvalid, baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// BaseURL returns the root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Create POSTs body to /api/{collection} and returns the canonical server
// record. body must not carry a temporary id; idempotencyKey, if non-empty,
// is sent as the Idempotency-Key header.
func (c *Client) Create(ctx context.Context, et types.EntityType, body json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	hdr := http.Header{}
	if idempotencyKey != "" {
		hdr.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	return c.do(ctx, http.MethodPost, collectionPath(et), nil, body, hdr)
}

// Update PUTs the full record to /api/{collection}/{id}. The response body
// is returned as is and may be empty.
func (c *Client) Update(ctx context.Context, et types.EntityType, id string, body json.RawMessage) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, recordPath(et, id), nil, body, nil)
}

// Delete removes /api/{collection}/{id}.
func (c *Client) Delete(ctx context.Context, et types.EntityType, id string) error {
	_, err := c.do(ctx, http.MethodDelete, recordPath(et, id), nil, nil, nil)
	return err
}

// List GETs the authoritative collection.
func (c *Client) List(ctx context.Context, et types.EntityType) ([]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, collectionPath(et), nil, nil, nil)
	if err != nil {
		return nil, err
	}
	records := []json.RawMessage{}
	if len(bytes.TrimSpace(body)) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decoding %s list: %w: %v", et, types.ErrInvalidData, err)
	}
	return records, nil
}

// PushSnapshot POSTs every syncable collection to /api/sync/all.
func (c *Client) PushSnapshot(ctx context.Context, snap types.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/api/sync/all", nil, body, nil)
	return err
}

// Restore GETs /api/sync/restore for one customer.
func (c *Client) Restore(ctx context.Context, customerID, businessName string) (types.Snapshot, error) {
	var snap types.Snapshot
	body, err := c.do(ctx, http.MethodGet, "/api/sync/restore", customerQuery(customerID, businessName), nil, nil)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(body, &snap); err != nil {
		return snap, fmt.Errorf("decoding snapshot: %w: %v", types.ErrInvalidData, err)
	}
	return snap, nil
}

// Status GETs /api/sync/status for one customer.
func (c *Client) Status(ctx context.Context, customerID, businessName string) (types.SyncMetadata, error) {
	var meta types.SyncMetadata
	body, err := c.do(ctx, http.MethodGet, "/api/sync/status", customerQuery(customerID, businessName), nil, nil)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return meta, fmt.Errorf("decoding sync status: %w: %v", types.ErrInvalidData, err)
	}
	return meta, nil
}

// do sends one request. Transport failures and non-2xx responses come back
// as *types.NetworkError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, hdr http.Header) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &types.NetworkError{Method: method, URL: target, Err: err}
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", target, "error", err)
		return nil, &types.NetworkError{Method: method, URL: target, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &types.NetworkError{Method: method, URL: target, StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Debug("request rejected", "method", method, "url", target, "status", res.StatusCode)
		return nil, &types.NetworkError{
			Method:     method,
			URL:        target,
			StatusCode: res.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(data))),
		}
	}
	return data, nil
}

func collectionPath(et types.EntityType) string {
	return "/api/" + url.PathEscape(et.Endpoint())
}

func recordPath(et types.EntityType, id string) string {
	return collectionPath(et) + "/" + url.PathEscape(id)
}

func customerQuery(customerID, businessName string) url.Values {
	q := url.Values{}
	q.Set("customerId", customerID)
	q.Set("businessName", businessName)
	return q
}
