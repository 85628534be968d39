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
	"strconv"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: remote status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client talks to one report collection of the remote document store.
// It implements store.RemoteService plus the administrative operations.
type Client struct {
	spec       domain.KindSpec
	baseURL    string
	apiKey     string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a client for spec's collection under baseURL.
func NewClient(spec domain.KindSpec, baseURL, apiKey string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		spec:    spec,
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// List returns one page of the collection, most recent first. A zero Limit
// means domain.DefaultPageSize.
func (c *Client) List(ctx context.Context, filter domain.ListFilter) ([]domain.Report, error) {
	reports, _, err := c.listPage(ctx, filter)
	return reports, err
}

// ListAll follows pagination until the whole filtered collection has been read.
func (c *Client) ListAll(ctx context.Context, filter domain.ListFilter) ([]domain.Report, error) {
	if filter.Limit <= 0 {
		filter.Limit = domain.DefaultPageSize
	}
	filter.Offset = 0

	var all []domain.Report
	for {
		page, total, err := c.listPage(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit || (total > 0 && len(all) >= total) {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

func (c *Client) listPage(ctx context.Context, filter domain.ListFilter) ([]domain.Report, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = domain.DefaultPageSize
	}
	params := url.Values{
		"limit": {strconv.Itoa(filter.Limit)},
	}
	if filter.Offset > 0 {
		params.Set("offset", strconv.Itoa(filter.Offset))
	}
	if filter.Type != "" {
		params.Set("type", filter.Type)
	}
	if filter.Region != "" {
		params.Set("region", filter.Region)
	}
	if filter.Hours > 0 {
		since := domain.Now().Add(-time.Duration(filter.Hours) * time.Hour)
		params.Set("since", since.UTC().Format(time.RFC3339))
	}

	var resp listResponse
	if err := c.do(ctx, "list", http.MethodGet, c.collectionURL()+"?"+params.Encode(), nil, &resp); err != nil {
		return nil, 0, err
	}

	reports := make([]domain.Report, 0, len(resp.Documents))
	for _, raw := range resp.Documents {
		r, err := decodeDocument(c.spec, raw)
		if err != nil {
			c.logger.Warn("skipping undecodable remote document", "kind", string(c.spec.Kind), "error", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, resp.Total, nil
}

// Create stores a new document and returns it as assigned by the service.
func (c *Client) Create(ctx context.Context, n domain.NewReport) (domain.Report, error) {
	return c.document(ctx, "create", http.MethodPost, c.collectionURL(), createBody(c.spec, n))
}

// Confirm increments the confirmation counter server-side.
func (c *Client) Confirm(ctx context.Context, id string) (domain.Report, error) {
	return c.document(ctx, "confirm", http.MethodPost, c.documentURL(id)+"/confirm", nil)
}

// Resolve sets the terminal flag and its timestamp server-side.
func (c *Client) Resolve(ctx context.Context, id string) (domain.Report, error) {
	return c.document(ctx, "resolve", http.MethodPost, c.documentURL(id)+"/resolve", nil)
}

// Update applies an administrative partial update. The generic keys "resolved"
// and "resolutionDate" are renamed to the kind's wire names.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) (domain.Report, error) {
	return c.document(ctx, "update", http.MethodPatch, c.documentURL(id), wireFields(c.spec, fields))
}

// Delete removes a document. It is an administrative operation.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.documentURL(id), nil, nil)
}

func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s/documents", c.baseURL, url.PathEscape(c.spec.Collection))
}

func (c *Client) documentURL(id string) string {
	return c.collectionURL() + "/" + url.PathEscape(id)
}

func (c *Client) document(ctx context.Context, op, method, fullURL string, body any) (domain.Report, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, method, fullURL, body, &raw); err != nil {
		return domain.Report{}, err
	}
	r, err := decodeDocument(c.spec, raw)
	if err != nil {
		return domain.Report{}, fmt.Errorf("%s %s: %w", op, c.spec.Kind, err)
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, op, method, fullURL string, body, out any) (err error) {
	kind := string(c.spec.Kind)
	start := time.Now()
	defer func() {
		c.metrics.RemoteDuration.WithLabelValues(kind, op).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.RemoteRequests.WithLabelValues(kind, op, outcome).Inc()
	}()

	var reader io.Reader
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return fmt.Errorf("%s %s: encode body: %w", op, kind, merr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return fmt.Errorf("%s %s: create request: %w", op, kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", op, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op + " " + kind, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", op, kind, err)
	}
	return nil
}
