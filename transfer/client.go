package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/iox"
	"github.com/pithecene-io/tessera/types"
	"github.com/pithecene-io/tessera/wire"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 5 * time.Minute

// Uploader sends one transfer unit. Implementations must be safe for
// concurrent use.
type Uploader interface {
	Upload(ctx context.Context, unit *types.TransferUnit) error
}

// Finalizer asks the server to assemble the artifact.
type Finalizer interface {
	Finalize(ctx context.Context) (*FinalizeReply, error)
}

// FinalizeReply is the server's answer to a successful finalize.
type FinalizeReply struct {
	Message     string
	Units       int
	Bytes       int64
	Fingerprint string
}

// ClientConfig configures an HTTPClient.
type ClientConfig struct {
	// Endpoint is the upload URL, e.g. http://host:5000/upload.
	Endpoint string
	// ArtifactID names the artifact on the server.
	ArtifactID string
	// SessionID is sent for server-side logging. Optional.
	SessionID string
	// Encoding compresses unit payloads on the wire. Empty is identity.
	Encoding wire.Encoding
	// Timeout is the per-request timeout (default 5m).
	Timeout time.Duration
	// RateLimit caps upload bandwidth in bytes per second. Zero disables.
	RateLimit int
	// Headers are added to every request.
	Headers map[string]string
}

// HTTPClient uploads units and finalizes artifacts over HTTP.
type HTTPClient struct {
	config      ClientConfig
	uploadURL   string
	finalizeURL string
	client      *http.Client
	limiter     *rate.Limiter
}

// NewHTTPClient validates cfg and derives the finalize URL.
func NewHTTPClient(cfg ClientConfig) (*HTTPClient, error) {
	finalizeURL, err := FinalizeURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if err := types.ValidateArtifactID(cfg.ArtifactID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if cfg.Encoding == "" {
		cfg.Encoding = wire.EncodingIdentity
	}
	if _, err := wire.ParseEncoding(string(cfg.Encoding)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	c := &HTTPClient{
		config:      cfg,
		uploadURL:   cfg.Endpoint,
		finalizeURL: finalizeURL,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)
	}
	return c, nil
}

// FinalizeURL derives the finalize endpoint from an upload endpoint by
// replacing its last path segment: http://h/api/upload -> http://h/api/finalize.
func FinalizeURL(uploadURL string) (string, error) {
	if uploadURL == "" {
		return "", fmt.Errorf("%w: endpoint is empty", ErrEndpoint)
	}
	u, err := url.Parse(uploadURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https, got %q", ErrEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrEndpoint, uploadURL)
	}
	u.Path = path.Join(path.Dir(path.Clean("/"+u.Path)), "finalize")
	u.RawPath = ""
	u.RawQuery = ""
	return u.String(), nil
}

// Upload sends one unit. The unit bytes travel encoded; the raw size and
// the unit fingerprint let the server verify them after decoding.
func (c *HTTPClient) Upload(ctx context.Context, unit *types.TransferUnit) error {
	payload, applied, err := wire.Encode(unit.Data, c.config.Encoding)
	if err != nil {
		return fmt.Errorf("%w: encode unit %d: %v", ErrMalformed, unit.Index, err)
	}

	if err := c.waitBandwidth(ctx, len(payload)); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set(wire.HeaderContentType, wire.ContentTypeOctetStream)
	req.Header.Set(wire.HeaderChunkIndex, wire.FormatIndex(unit.Index))
	req.Header.Set(wire.HeaderContentDisposition, wire.ContentDisposition(c.config.ArtifactID))
	req.Header.Set(wire.HeaderRawSize, strconv.Itoa(len(unit.Data)))
	req.Header.Set(wire.HeaderFingerprint, digest.Unit(unit.Data).String())
	if applied != wire.EncodingIdentity {
		req.Header.Set(wire.HeaderContentEncoding, string(applied))
	}

	_, err = c.do(req)
	return err
}

// Finalize requests reassembly of the artifact.
func (c *HTTPClient) Finalize(ctx context.Context) (*FinalizeReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.finalizeURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return &FinalizeReply{
		Message:     resp.Message,
		Units:       resp.Units,
		Bytes:       resp.Bytes,
		Fingerprint: resp.Fingerprint,
	}, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) setCommonHeaders(req *http.Request) {
	req.Header.Set(wire.HeaderOriginalFilename, c.config.ArtifactID)
	req.Header.Set(wire.HeaderProtocol, types.ProtocolVersion)
	if c.config.SessionID != "" {
		req.Header.Set(wire.HeaderSession, c.config.SessionID)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
}

// do performs a request and decodes the JSON response body. Non-2xx
// responses become *StatusError carrying the server's error message.
func (c *HTTPClient) do(req *http.Request) (*wire.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var decoded wire.Response
	if len(body) > 0 {
		// Non-JSON bodies (proxies, plain-text errors) still yield a status.
		if jsonErr := json.Unmarshal(body, &decoded); jsonErr != nil {
			decoded.Error = string(bytes.TrimSpace(body))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: decoded.Summary()}
	}
	return &decoded, nil
}

// waitBandwidth blocks until n bytes fit under the rate limit. Payloads
// larger than the burst are admitted in burst-sized steps.
func (c *HTTPClient) waitBandwidth(ctx context.Context, n int) error {
	if c.limiter == nil {
		return nil
	}
	burst := c.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.limiter.WaitN(ctx, step); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("bandwidth limiter: %w", err)
		}
		n -= step
	}
	return nil
}

// Verify HTTPClient implements Uploader and Finalizer.
var (
	_ Uploader  = (*HTTPClient)(nil)
	_ Finalizer = (*HTTPClient)(nil)
)
