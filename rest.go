package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ============================================================================
// REST calls
// ============================================================================

// Call performs one REST request against the configured endpoint. For GET
// and DELETE params are sent as the query string, otherwise as a JSON body.
// A non-2xx response is returned as *Exception. When out is non-nil the
// response body is decoded into it.
func (c *Client) Call(ctx context.Context, method, path string, params map[string]any, out any) error {
	c.mu.RLock()
	endpoint := c.endpoint
	hc := c.httpClient
	c.mu.RUnlock()
	header := c.Headers()

	u := endpoint + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if q := encodeQuery(params); q != "" {
			u += "?" + q
		}
	} else if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
		header.Set("Content-Type", "application/json")
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = header

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		ex := &Exception{Code: resp.StatusCode, Response: string(data)}
		if err := json.Unmarshal(data, ex); err != nil || ex.Message == "" {
			ex.Message = strings.TrimSpace(string(data))
			if ex.Message == "" {
				ex.Message = http.StatusText(resp.StatusCode)
			}
		}
		if ex.Code == 0 {
			ex.Code = resp.StatusCode
		}
		return ex
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// encodeQuery flattens params with the bracket convention the API expects
// for lists, e.g. queries[]=a&queries[]=b.
func encodeQuery(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
		case []string:
			for _, s := range v {
				parts = append(parts, k+"[]="+url.QueryEscape(s))
			}
		case string:
			parts = append(parts, k+"="+url.QueryEscape(v))
		default:
			parts = append(parts, k+"="+url.QueryEscape(fmt.Sprint(v)))
		}
	}
	return strings.Join(parts, "&")
}

// ============================================================================
// Account
// ============================================================================

// User is the subset of the account resource the SDK reads.
type User struct {
	ID     string `json:"$id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Status bool   `json:"status"`
}

// Account returns the user owning the current session. Without a session
// the server answers 401 and the *Exception is returned.
func (c *Client) Account(ctx context.Context) (*User, error) {
	var u User
	if err := c.Call(ctx, http.MethodGet, "/account", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
