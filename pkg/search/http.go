package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPBackend talks to a search backend exposing cursor-paginated scans
// over HTTP (Elasticsearch-compatible search/scroll API)
type HTTPBackend struct {
	endpoint string
	hc       *http.Client
	logger   *zap.Logger
}

// NewHTTPBackend creates a backend client for the given base URL
func NewHTTPBackend(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		hc:       &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Open starts a scan and returns the first page plus a cursor
func (b *HTTPBackend) Open(ctx context.Context, req Request) (*Page, error) {
	body := map[string]interface{}{
		"size":  req.PageSize,
		"query": encodeQuery(req.Query),
		"sort":  encodeSort(req.Sort),
	}

	url := fmt.Sprintf("%s/%s/_search?scroll=%s", b.endpoint, req.Index, keepAliveParam(req.KeepAlive))
	return b.post(ctx, url, body)
}

// Scroll consumes a cursor and returns the next page
func (b *HTTPBackend) Scroll(ctx context.Context, cursor string, keepAlive time.Duration) (*Page, error) {
	body := map[string]interface{}{
		"scroll":    keepAliveParam(keepAlive),
		"scroll_id": cursor,
	}
	return b.post(ctx, b.endpoint+"/_search/scroll", body)
}

// ClearCursor releases an abandoned cursor
func (b *HTTPBackend) ClearCursor(ctx context.Context, cursor string) error {
	body, err := json.Marshal(map[string]interface{}{
		"scroll_id": []string{cursor},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		b.endpoint+"/_search/scroll", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return nil
}

func (b *HTTPBackend) post(ctx context.Context, url string, body map[string]interface{}) (*Page, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrCursorExpired
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search backend returned %d: %s", resp.StatusCode, raw)
	}

	var out struct {
		ScrollID string `json:"_scroll_id"`
		Hits     struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	page := &Page{
		Hits:   make([]Record, 0, len(out.Hits.Hits)),
		Total:  out.Hits.Total.Value,
		Cursor: out.ScrollID,
	}
	for _, h := range out.Hits.Hits {
		page.Hits = append(page.Hits, h.Source)
	}

	return page, nil
}

// encodeQuery renders a Query as a backend bool query
func encodeQuery(q Query) map[string]interface{} {
	must := make([]interface{}, 0, len(q.Must))
	for _, c := range q.Must {
		must = append(must, encodeClause(c))
	}
	return map[string]interface{}{
		"bool": map[string]interface{}{
			"must": must,
		},
	}
}

func encodeClause(c Clause) map[string]interface{} {
	switch v := c.(type) {
	case Term:
		return map[string]interface{}{
			"term": map[string]interface{}{v.Field: v.Value},
		}
	case FieldOr:
		should := make([]interface{}, 0, len(v.Fields))
		for _, f := range v.Fields {
			should = append(should, map[string]interface{}{
				"term": map[string]interface{}{f: v.Value},
			})
		}
		return map[string]interface{}{
			"bool": map[string]interface{}{
				"should":               should,
				"minimum_should_match": 1,
			},
		}
	case NumRange:
		bounds := map[string]interface{}{}
		if v.GTE != nil {
			bounds["gte"] = *v.GTE
		}
		if v.LTE != nil {
			bounds["lte"] = *v.LTE
		}
		return map[string]interface{}{
			"range": map[string]interface{}{v.Field: bounds},
		}
	case TimeRange:
		bounds := map[string]interface{}{}
		if v.GTE != "" {
			bounds["gte"] = v.GTE
		}
		if v.LTE != "" {
			bounds["lte"] = v.LTE
		}
		return map[string]interface{}{
			"range": map[string]interface{}{v.Field: bounds},
		}
	default:
		return map[string]interface{}{}
	}
}

func encodeSort(s Sort) []interface{} {
	order := "desc"
	if s.Ascending {
		order = "asc"
	}
	return []interface{}{
		map[string]interface{}{s.Field: map[string]interface{}{"order": order}},
	}
}

// keepAliveParam renders a keep-alive duration in the backend's unit form
func keepAliveParam(d time.Duration) string {
	if d <= 0 {
		d = 30 * time.Second
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
