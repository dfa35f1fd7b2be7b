// Package webhook delivers finalize events as signed JSON POSTs.
//
// Each event gets one delivery ID that is repeated on every retry so
// receivers can drop duplicates. With a Secret configured, the body is
// signed with HMAC-SHA256 in the X-Tessera-Signature header.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/tessera/adapter"
	"github.com/pithecene-io/tessera/iox"
)

// Delivery headers set on every request.
const (
	HeaderEvent     = "X-Tessera-Event"
	HeaderArtifact  = "X-Tessera-Artifact"
	HeaderDelivery  = "X-Tessera-Delivery"
	HeaderSignature = "X-Tessera-Signature"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultRetries is the default number of retry attempts.
	DefaultRetries = 3
	// DefaultBackoff is the wait before the first retry.
	DefaultBackoff = 500 * time.Millisecond
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are added to each request. They cannot override the
	// delivery headers.
	Headers map[string]string
	// Secret signs request bodies when non-empty.
	Secret  string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

// Adapter delivers finalize events over HTTP.
type Adapter struct {
	config Config
	client *http.Client
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish delivers event. Client errors other than 408 and 429 are not
// retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.ArtifactFinalizedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	d := delivery{
		id:       uuid.New().String(),
		event:    event.EventType,
		artifact: event.ArtifactID,
		body:     body,
	}
	if a.config.Secret != "" {
		d.signature = Sign(a.config.Secret, body)
	}

	err = adapter.Retry(ctx, a.config.Retries, a.config.Backoff, func(ctx context.Context) error {
		err := a.send(ctx, &d)
		var se *StatusError
		if errors.As(err, &se) && !se.Retriable() {
			return adapter.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("webhook %s: %w", d.id, err)
	}
	return nil
}

// Sign returns the signature header value for body: "sha256=" followed
// by the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retriable reports whether the status may succeed on a later attempt.
func (e *StatusError) Retriable() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= 400 && e.Code < 500:
		return false
	}
	return true
}

type delivery struct {
	id        string
	event     string
	artifact  string
	signature string
	body      []byte
}

func (a *Adapter) send(ctx context.Context, d *delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(d.body))
	if err != nil {
		return adapter.Permanent(fmt.Errorf("create request: %w", err))
	}
	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, d.event)
	req.Header.Set(HeaderArtifact, d.artifact)
	req.Header.Set(HeaderDelivery, d.id)
	if d.signature != "" {
		req.Header.Set(HeaderSignature, d.signature)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
