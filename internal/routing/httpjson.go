package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 10 * time.Second

// maxResponseBytes caps how much of a provider response is decoded.
const maxResponseBytes = 4 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getJSON issues a GET and decodes the body into a generic JSON value.
// ok is false on transport errors, non-2xx statuses and undecodable bodies.
func getJSON(ctx context.Context, hc *http.Client, url string, header http.Header) (any, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	return doJSON(hc, req, header)
}

func postJSON(ctx context.Context, hc *http.Client, url string, body any, header http.Header) (any, bool) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, false
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(hc, req, header)
}

func doJSON(hc *http.Client, req *http.Request, header http.Header) (any, bool) {
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, false
	}

	var v any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// lookup walks v along path, where string elements index objects and int
// elements index arrays, and returns the number found there.
func lookup(v any, path ...any) (float64, bool) {
	cur := v
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return 0, false
			}
			cur, ok = m[key]
			if !ok {
				return 0, false
			}
		case int:
			a, ok := cur.([]any)
			if !ok || key < 0 || key >= len(a) {
				return 0, false
			}
			cur = a[key]
		default:
			return 0, false
		}
	}
	f, ok := cur.(float64)
	return f, ok
}

// lookupString is lookup for a string leaf.
func lookupString(v any, key string) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
