package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient is a thin JSON client for the dscd HTTP API.
type apiClient struct {
	base   string
	token  string
	caller string
	http   *http.Client
}

func newAPIClient(base, token, caller string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		token:  strings.TrimSpace(token),
		caller: strings.TrimSpace(caller),
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError carries a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("dscd returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) get(path string) (json.RawMessage, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c *apiClient) post(path string, body any) (json.RawMessage, error) {
	return c.do(http.MethodPost, path, body)
}

func (c *apiClient) do(method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.caller != "" {
		req.Header.Set("X-DSC-Caller", c.caller)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg}
	}
	return json.RawMessage(data), nil
}
