// Package transfer implements the client side of the lazy, hash-addressed
// transfer protocol (spec.md §4.3): diffing the locally-known object set
// against the server's, then uploading missing blobs, recipes, manifests
// (in postorder) and finally the snap, and downloading the inverse.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/inflatable-cookie/converge/internal/converrors"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"golang.org/x/sync/errgroup"
)

// Client is a thin HTTP client against one converge server repo, wrapping
// every call in a bounded exponential backoff retry for Transient failures.
type Client struct {
	BaseURL string
	Repo    string
	Token   string
	HTTP    *http.Client

	// MaxFetchConcurrency bounds the number of concurrent GETs during
	// download fan-out. Zero means DefaultFetchConcurrency.
	MaxFetchConcurrency int
}

const DefaultFetchConcurrency = 8

// NewClient builds a Client with sane defaults.
func NewClient(baseURL, repo, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Repo:    repo,
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) concurrency() int {
	if c.MaxFetchConcurrency > 0 {
		return c.MaxFetchConcurrency
	}
	return DefaultFetchConcurrency
}

// ObjectSet names object ids by kind, matching the wire shape of the
// missing-object diff request and response.
type ObjectSet struct {
	Blobs     []objmodel.ID `json:"blobs"`
	Manifests []objmodel.ID `json:"manifests"`
	Recipes   []objmodel.ID `json:"recipes"`
	Snaps     []objmodel.ID `json:"snaps"`
}

type missingResponse struct {
	MissingBlobs     []objmodel.ID `json:"missing_blobs"`
	MissingManifests []objmodel.ID `json:"missing_manifests"`
	MissingRecipes   []objmodel.ID `json:"missing_recipes"`
	MissingSnaps     []objmodel.ID `json:"missing_snaps"`
}

// Missing asks the server which of the given ids it does not yet have.
func (c *Client) Missing(ctx context.Context, set ObjectSet) (ObjectSet, error) {
	body, err := json.Marshal(set)
	if err != nil {
		return ObjectSet{}, fmt.Errorf("transfer: encode missing-object request: %w", err)
	}
	raw, err := c.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/objects/missing", c.Repo), body, nil)
	if err != nil {
		return ObjectSet{}, err
	}
	var resp missingResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return ObjectSet{}, fmt.Errorf("transfer: decode missing-object response: %w", err)
	}
	return ObjectSet{
		Blobs: resp.MissingBlobs, Manifests: resp.MissingManifests,
		Recipes: resp.MissingRecipes, Snaps: resp.MissingSnaps,
	}, nil
}

// PutObject idempotently uploads one object; the server treats a repeat
// upload of the same id as a no-op, both returning Created.
func (c *Client) PutObject(ctx context.Context, kind string, id objmodel.ID, raw []byte, allowMissingBlobs bool) error {
	path := fmt.Sprintf("/repos/%s/objects/%s/%s", c.Repo, kind, id)
	if allowMissingBlobs {
		path += "?allow_missing_blobs=true"
	}
	_, err := c.doWithRetry(ctx, http.MethodPut, path, raw, nil)
	return err
}

// GetObject fetches one object's raw bytes with an integrity check against
// id, failing with HashMismatch if the server's response disagrees.
func (c *Client) GetObject(ctx context.Context, kind string, id objmodel.ID) ([]byte, error) {
	raw, err := c.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/objects/%s/%s", c.Repo, kind, id), nil, nil)
	if err != nil {
		return nil, err
	}
	if kind == "blobs" {
		if got := objmodel.HashBytes(raw); got != id {
			return nil, converrors.New(converrors.HashMismatch, "fetched blob %s hashes to %s", id, got)
		}
	}
	return raw, nil
}

// FetchMany downloads a set of objects of one kind concurrently, bounded by
// c.concurrency(), skipping ids already satisfied by have.
func (c *Client) FetchMany(ctx context.Context, kind string, ids []objmodel.ID, have func(objmodel.ID) bool, store func(objmodel.ID, []byte) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency())
	for _, id := range ids {
		if have != nil && have(id) {
			continue
		}
		id := id
		g.Go(func() error {
			raw, err := c.GetObject(ctx, kind, id)
			if err != nil {
				return err
			}
			return store(id, raw)
		})
	}
	return g.Wait()
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var result []byte
	operation := func() error {
		raw, err := c.do(ctx, method, path, body, headers)
		if err != nil {
			return err
		}
		result = raw
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if converrors.IsTransient(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			return nil, perm.Unwrap()
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("transfer: build request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, converrors.New(converrors.Transient, "transfer: request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, converrors.New(converrors.Transient, "transfer: read response: %v", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, classifyStatus(resp.StatusCode, raw)
}

func classifyStatus(status int, raw []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &body)
	message := body.Error
	if message == "" {
		message = string(raw)
	}
	switch {
	case status >= 500:
		return converrors.New(converrors.Transient, "server error %d: %s", status, message)
	case status == http.StatusUnauthorized:
		return converrors.New(converrors.Unauthorized, "%s", message)
	case status == http.StatusForbidden:
		return converrors.New(converrors.Forbidden, "%s", message)
	case status == http.StatusNotFound:
		return converrors.New(converrors.NotFound, "%s", message)
	case status == http.StatusConflict:
		return converrors.New(converrors.Conflict, "%s", message)
	default:
		return converrors.New(converrors.BadEncoding, "request failed with %d: %s", status, message)
	}
}
