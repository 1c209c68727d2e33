package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"parchment/pkg/manuscript"
	"parchment/pkg/words"
)

// ErrRemote is returned for failures the server did not classify.
var ErrRemote = errors.New("rpc: remote error")

// Client talks to a manuscript served over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// Page is a page as returned by the server.
type Page struct {
	Number uint64   `json:"number"`
	Offset uint64   `json:"offset"`
	Length uint64   `json:"length"`
	Values []uint64 `json:"values,omitempty"`
}

type response struct {
	Status   string                   `json:"status"`
	Page     *Page                    `json:"page"`
	Pages    []manuscript.EntryStatus `json:"pages"`
	Recycled []manuscript.IndexEntry  `json:"recycled"`
	Error    string                   `json:"error"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK)
	return err
}

// Append stores values as a new page.
func (c *Client) Append(ctx context.Context, values []uint64) (Page, error) {
	body, err := json.Marshal(manuscript.NewPage{Values: values})
	if err != nil {
		return Page{}, fmt.Errorf("encode page: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/pages", body, http.StatusCreated)
	if err != nil {
		return Page{}, err
	}
	return pageOf(resp)
}

// Get returns page number with its values.
func (c *Client) Get(ctx context.Context, number uint64) (Page, error) {
	resp, err := c.do(ctx, http.MethodGet, pagePath(number), nil, http.StatusOK)
	if err != nil {
		return Page{}, err
	}
	return pageOf(resp)
}

func (c *Client) Delete(ctx context.Context, number uint64) error {
	_, err := c.do(ctx, http.MethodDelete, pagePath(number), nil, http.StatusOK)
	return err
}

// List returns every index entry with its deletion state.
func (c *Client) List(ctx context.Context) ([]manuscript.EntryStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/pages", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return resp.Pages, nil
}

// Recycled returns the recycled entries ordered by size.
func (c *Client) Recycled(ctx context.Context) ([]manuscript.IndexEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/recycling", nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return resp.Recycled, nil
}

func pagePath(number uint64) string {
	return "/api/pages/" + strconv.FormatUint(number, 10)
}

func pageOf(resp response) (Page, error) {
	if resp.Page == nil {
		return Page{}, fmt.Errorf("%w: response carries no page", ErrRemote)
	}
	return *resp.Page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int) (response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return response{}, fmt.Errorf("create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read %s %s: %w", method, path, err)
	}

	var r response
	if len(b) > 0 {
		if err := json.Unmarshal(b, &r); err != nil {
			return response{}, fmt.Errorf("decode: %w body=%s", err, string(b))
		}
	}
	if resp.StatusCode != want {
		return response{}, statusError(resp.StatusCode, r.Error)
	}
	return r, nil
}

// statusError maps a status code back to the engine error it stands for.
func statusError(code int, msg string) error {
	var base error
	switch code {
	case http.StatusGone:
		base = manuscript.ErrPageDeleted
	case http.StatusConflict:
		base = manuscript.ErrPageConflict
	case http.StatusNotFound:
		base = words.ErrOutOfBounds
	default:
		base = ErrRemote
	}
	return fmt.Errorf("%w: status=%d: %s", base, code, msg)
}
