package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pithecene-io/tessera/metrics"
)

// maxMetricsBody bounds the metrics response read from a server.
const maxMetricsBody = 1 << 20

// FetchServerMetrics reads the collector snapshot from a running server.
// baseURL is the server root, e.g. http://127.0.0.1:5000. A nil client
// uses http.DefaultClient.
func FetchServerMetrics(ctx context.Context, client *http.Client, baseURL string) (*metrics.Snapshot, error) {
	if client == nil {
		client = http.DefaultClient
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	endpoint := base.JoinPath("metrics").String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	var snap metrics.Snapshot
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetricsBody)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode metrics from %s: %w", endpoint, err)
	}
	return &snap, nil
}
