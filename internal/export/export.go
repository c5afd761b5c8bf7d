// Package export pushes counter snapshots to the external reporting
// sink and decides when the daily flush is due.
package export

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Tags naming the condition that triggered an out-of-schedule export.
// They ride as the last element of the query and are part of the sink
// contract. A scheduled export carries no tag.
const (
	TagPowerUp       = "PowerUp"
	TagWiFiReconnect = "WiFiReconnect"
	TagStorageError  = "SD-Error"
)

const (
	requestTimeout = 15 * time.Second

	// The response body is republished on the status topic; cap what
	// we carry.
	maxResponseBytes = 2 << 10
)

// Sink reports counter snapshots to the external endpoint as an HTTP
// GET with all values in the query string. The sink answers through a
// redirect, which the default client policy follows.
type Sink struct {
	base   string
	client *http.Client
}

// NewSink creates a sink for the given base URL.
func NewSink(base string) *Sink {
	return &Sink{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Query builds the meterData value: every channel's total in units,
// then every channel's subtotal, two decimals each, with an optional
// trailing tag naming the trigger.
func Query(totals, subtotals []float64, tag string) string {
	parts := make([]string, 0, len(totals)+len(subtotals)+1)
	for _, v := range totals {
		parts = append(parts, strconv.FormatFloat(v, 'f', 2, 64))
	}
	for _, v := range subtotals {
		parts = append(parts, strconv.FormatFloat(v, 'f', 2, 64))
	}
	if tag != "" {
		parts = append(parts, tag)
	}
	return strings.Join(parts, ",")
}

// Push sends one snapshot and returns a status line for the status
// topic. A non-2xx response is not an error; only transport failures
// are, and callers treat those as best-effort too.
func (s *Sink) Push(ctx context.Context, totals, subtotals []float64, tag string) (string, error) {
	url := s.base + "/exec?meterData=" + Query(totals, subtotals, tag)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("export: build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("export: read response: %w", err)
	}

	return fmt.Sprintf("HTTP Status Code: %d, HTTP Message: %s", resp.StatusCode, string(body)), nil
}
