package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin JSON client against the watermark engine's HTTP API.
type apiClient struct {
	baseURL string
	key     string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: apiBaseURL,
		key:     apiKey,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *apiClient) post(path string, body interface{}, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("watermarkctl: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("watermarkctl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("watermarkctl: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("watermarkctl: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("watermarkctl: %s %s: %s: %s", method, path, resp.Status, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("watermarkctl: decode response: %w", err)
	}
	return nil
}
