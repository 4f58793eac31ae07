// Package fhir is a thin REST client for the clinical data store.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned for 404 responses on reads by id.
var ErrNotFound = errors.New("fhir: resource not found")

type Client struct {
	base   string
	client *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		base:   baseURL,
		client: &http.Client{Timeout: timeout},
	}
}

// Get fetches a resource by id into out.
func (c *Client) Get(ctx context.Context, resourceType, id string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/"+resourceType+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Search runs a search and returns the first page.  The store caches search
// results by default, so ask it not to; freshly written resources must be
// visible to the dispatch sweep and callback lookups.
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) (*Bundle, error) {
	u := c.base + "/" + resourceType
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	var b Bundle
	if err := c.do(req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// NextPage follows the bundle's "next" link, or returns nil when exhausted.
func (c *Client) NextPage(ctx context.Context, b *Bundle) (*Bundle, error) {
	next := b.NextLink()
	if next == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	var page Bundle
	if err := c.do(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// SearchAll walks every page of a search, invoking fn per entry resource.
// Iteration stops on the first fn error.
func (c *Client) SearchAll(ctx context.Context, resourceType string, params url.Values, fn func(json.RawMessage) error) error {
	page, err := c.Search(ctx, resourceType, params)
	if err != nil {
		return err
	}
	for page != nil {
		for _, e := range page.Entry {
			if err := fn(e.Resource); err != nil {
				return err
			}
		}
		page, err = c.NextPage(ctx, page)
		if err != nil {
			return err
		}
	}
	return nil
}

// Create posts a new resource; the stored form (with id) lands in out when
// out is non-nil.
func (c *Client) Create(ctx context.Context, resourceType string, resource, out any) error {
	body, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+resourceType, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	return c.do(req, out)
}

// Update puts a resource by id.
func (c *Client) Update(ctx context.Context, resourceType, id string, resource, out any) error {
	body, err := json.Marshal(resource)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.base+"/"+resourceType+"/"+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/fhir+json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fhir: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, req.Method, req.URL.Path)
	}
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("fhir: %s %s: status=%d body=%s", req.Method, req.URL.Path, res.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
