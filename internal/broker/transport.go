package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Transport is the shared REST client the adapters issue broker calls
// through. It performs exactly one outbound request per call: no retries
// live here or anywhere else in the core. The http.Client is injectable so
// tests can point it at an httptest server.
type Transport struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewTransport creates a transport rooted at baseURL.
func NewTransport(baseURL string, client *http.Client, log zerolog.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Transport{baseURL: baseURL, client: client, log: log}
}

// Response is a broker's raw answer: status plus undecoded body. Non-2xx
// statuses are returned here, not as errors; only wire-level failures
// produce an error.
type Response struct {
	Status int
	Body   []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Do issues one HTTP request. A JSON body is marshalled when body is
// non-nil; extra headers are applied after Content-Type and Accept.
func (t *Transport) Do(ctx context.Context, method, path string, query url.Values, body any, headers map[string]string) (*Response, error) {
	endpoint := t.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.log.Debug().Str("method", method).Str("path", path).Dur("duration", time.Since(start)).Err(err).Msg("broker call failed")
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	t.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("broker call completed")

	return &Response{Status: resp.StatusCode, Body: raw}, nil
}
