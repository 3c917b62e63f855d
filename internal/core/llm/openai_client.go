package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OpenAIConfig configures the OpenAI REST clients.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type openAIClient struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
}

func newOpenAIClient(cfg OpenAIConfig) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &openAIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: t},
		maxRetries: retries,
	}, nil
}

type apiStatusError struct {
	Status string
	Body   string
}

func (e *apiStatusError) Error() string {
	return fmt.Sprintf("openai request failed: %s: %s", e.Status, e.Body)
}

// post sends body as JSON to path and decodes the response into out. 429 and
// 5xx responses are retried with backoff, honouring Retry-After.
func (c *openAIClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.baseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(lastErr, attempt-1)); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &retryAfterError{
				apiStatusError: apiStatusError{Status: resp.Status, Body: truncate(string(payload), 200)},
				after:          parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			continue
		}
		if resp.StatusCode >= 300 {
			return &apiStatusError{Status: resp.Status, Body: truncate(string(payload), 200)}
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode openai response: %w", err)
		}
		return nil
	}
	return lastErr
}

type retryAfterError struct {
	apiStatusError
	after time.Duration
}

func (c *openAIClient) backoff(err error, attempt int) time.Duration {
	if ra, ok := err.(*retryAfterError); ok && ra.after > 0 {
		return min(ra.after, 30*time.Second)
	}
	return retryDelay(attempt)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
