package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSink posts samples as JSON to a collector endpoint. Export errors are
// counted by the pipeline, not retried; the loop's health must not depend on
// the collector's.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink builds a sink for the given collector URL. A nil client gets a
// short-timeout default.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

// Export posts one sample.
func (s *HTTPSink) Export(ctx context.Context, sample Sample) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post sample: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %s", resp.Status)
	}
	return nil
}
