package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

// Object is a decoded JSON object whose values are left raw so callers can
// unwrap only the parts they need.
type Object map[string]json.RawMessage

// Client issues authenticated JSON requests and classifies their failures.
type Client struct {
	token      string
	httpClient *http.Client
	log        logr.Logger
}

// NewClient returns a Client that authenticates with a bearer token.
func NewClient(log logr.Logger, httpClient *http.Client, token string) (*Client, error) {
	if token == "" {
		return nil, &waf.ConfigurationError{Field: "apikey", Reason: "API key not found in settings"}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{token: token, httpClient: httpClient, log: log}, nil
}

func (c *Client) defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Content-Type", "application/json")
	return h
}

// Request sends body, if non-nil, as JSON and returns the full decoded
// response object. A nil headers value means the default bearer and JSON
// headers; a non-nil value replaces them entirely.
func (c *Client) Request(ctx context.Context, method, url string, headers http.Header, body any) (Object, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	if headers == nil {
		headers = c.defaultHeaders()
	}
	req.Header = headers.Clone()

	c.log.V(1).Info("sending request", "method", method, "url", url)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &waf.TransportError{Method: method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &waf.TransportError{Method: method, URL: url, Err: fmt.Errorf("reading response body: %w", err)}
	}

	appErr := &waf.ApplicationError{Method: method, URL: url, Status: resp.StatusCode, Body: string(respBody)}

	var obj Object
	decodeErr := json.Unmarshal(respBody, &obj)
	if decodeErr == nil {
		appErr.Errors = decodeMessages(obj["errors"])
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, appErr
	}
	if decodeErr != nil || obj == nil {
		return nil, appErr
	}

	var success bool
	if err := json.Unmarshal(obj["success"], &success); err != nil || !success {
		return nil, appErr
	}
	return obj, nil
}

// decodeMessages is lenient: a malformed errors field yields no messages.
func decodeMessages(raw json.RawMessage) []waf.APIMessage {
	if len(raw) == 0 {
		return nil
	}
	var msgs []waf.APIMessage
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

// Result decodes the "result" member of a response object into v.
// It reports false when the member is missing or null.
func (o Object) Result(v any) (bool, error) {
	raw, ok := o["result"]
	if !ok || len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("cloudflare: decode result: %w", err)
	}
	return true, nil
}
