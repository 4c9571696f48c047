// Package rowstore is a typed gateway over a REST row API.
//
// Rows live in a relational store fronted by a thin REST layer; every
// predicate is expressed as a "column=op.value" query parameter and writes
// return the affected rows when asked to via the Prefer header.
package rowstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amaeclinic/televisit/internal/metrics"
	"github.com/amaeclinic/televisit/internal/platform/httpx"
)

// Table names owned by the booking core.
const (
	TableAppointments   = "appointments"
	TableDoctors        = "doctors"
	TablePatients       = "patients"
	TableAvailabilities = "appointment_availabilities"
	TableOverrides      = "doctor_availability_overrides"
	TableLocks          = "scheduling_locks"
	TableVideoSessions  = "video_sessions"
	TableVideoURLs      = "video_session_urls"
	TableVideoEvents    = "video_session_lifecycle_events"
)

const maxErrorBody = 512

// Client performs typed CRUD against the row API.
type Client struct {
	base string
	key  string
	http *http.Client
}

// New creates a gateway client for the given base URL and service key.
func New(base, key string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: httpx.NewClient(timeout),
	}
}

// Select fetches rows matching q into dest (a pointer to a slice).
func (c *Client) Select(ctx context.Context, q Query, dest any) error {
	u := c.base + "/" + q.Table
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return c.do(ctx, http.MethodGet, u, q.Table, "select", nil, dest)
}

// Insert creates a row. When dest is non-nil the representation of the
// created row(s) is decoded into it.
func (c *Client) Insert(ctx context.Context, table string, record any, dest any) error {
	return c.do(ctx, http.MethodPost, c.base+"/"+table, table, "insert", record, dest)
}

// Update patches rows matching the filters.
func (c *Client) Update(ctx context.Context, table string, filters []Filter, patch any, dest any) error {
	u := c.base + "/" + table
	if enc := (Query{Filters: filters}).Encode(); enc != "" {
		u += "?" + enc
	}
	return c.do(ctx, http.MethodPatch, u, table, "update", patch, dest)
}

// Delete removes rows matching the filters.
func (c *Client) Delete(ctx context.Context, table string, filters []Filter) error {
	u := c.base + "/" + table
	if enc := (Query{Filters: filters}).Encode(); enc != "" {
		u += "?" + enc
	}
	return c.do(ctx, http.MethodDelete, u, table, "delete", nil, nil)
}

func (c *Client) do(ctx context.Context, method, u, table, op string, body any, dest any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &StoreError{Sentinel: ErrBadResponse, Op: op, Table: table, Err: err}
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return &StoreError{Sentinel: ErrUpstreamUnavailable, Op: op, Table: table, Err: err}
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Content-Type", "application/json")
	if dest != nil && method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.IncRowstoreRequest(table, "transport_error")
		sentinel := ErrUpstreamUnavailable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			sentinel = ErrTimeout
		}
		return &StoreError{Sentinel: sentinel, Op: op, Table: table, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 400 {
		metrics.IncRowstoreRequest(table, "http_error")
		return c.statusError(res, op, table)
	}

	if dest != nil {
		if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
			metrics.IncRowstoreRequest(table, "decode_error")
			return &StoreError{Sentinel: ErrBadResponse, Op: op, Table: table, Status: res.StatusCode, Err: err}
		}
	} else {
		_, _ = io.Copy(io.Discard, res.Body)
	}
	metrics.IncRowstoreRequest(table, "success")
	return nil
}

func (c *Client) statusError(res *http.Response, op, table string) error {
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	se := &StoreError{
		Op:     op,
		Table:  table,
		Status: res.StatusCode,
		Body:   strings.TrimSpace(string(snippet)),
	}
	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		se.Sentinel = ErrUnauthorized
	case res.StatusCode == http.StatusNotFound:
		se.Sentinel = ErrNotFound
	case res.StatusCode == http.StatusConflict:
		se.Sentinel = ErrConflict
	case res.StatusCode >= 500:
		se.Sentinel = ErrUpstreamUnavailable
	default:
		se.Sentinel = ErrBadResponse
	}
	return se
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Ping verifies the row API is reachable with the configured credentials.
func (c *Client) Ping(ctx context.Context) error {
	var rows []map[string]any
	return c.Select(ctx, Query{Table: TableDoctors, Limit: 1, Select: "id"}, &rows)
}
