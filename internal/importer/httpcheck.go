package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCheckTimeout bounds a duplicate check when the context has no deadline.
const DefaultCheckTimeout = 30 * time.Second

// HTTPDuplicateChecker posts the parsed rows to a duplicate-check endpoint that
// answers {"duplicados": [...]}. One attempt per call, no retries.
type HTTPDuplicateChecker struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration

	// Header is added to every request (auth tokens, API keys).
	Header http.Header
}

type duplicateResponse struct {
	Duplicados []DuplicateCandidate `json:"duplicados"`
	Error      string               `json:"error,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// CheckDuplicates implements DuplicateChecker.
func (c *HTTPDuplicateChecker) CheckDuplicates(ctx context.Context, rows []Row) ([]DuplicateCandidate, error) {
	if rows == nil {
		rows = []Row{}
	}
	body, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode rows: %w", err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = DefaultCheckTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build duplicate check request: %w", err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duplicate check request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read duplicate check response: %w", err)
	}

	var out duplicateResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if decodeErr == nil && (out.Message != "" || out.Error != "") {
			msg = out.Message
			if msg == "" {
				msg = out.Error
			}
		}
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("duplicate check: status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode duplicate check response: %w", decodeErr)
	}

	return out.Duplicados, nil
}
