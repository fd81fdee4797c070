// Package webhook delivers appointment events to subscribed HTTP endpoints.
// Payloads are signed with HMAC-SHA256 so receivers can verify the sender.
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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vetcare/vetcare/internal/platform/events"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventIDHeader   = "X-Webhook-Event-ID"
	TimestampHeader = "X-Webhook-Timestamp"
)

var ErrClosed = errors.New("webhook sink closed")

// Endpoint is one subscriber. Events holds type patterns: an exact type
// ("appointment.cancelled"), a prefix ("appointment.*") or a suffix
// ("*.cancelled"). An empty list subscribes to everything.
type Endpoint struct {
	URL    string
	Secret string
	Events []string
}

func (ep Endpoint) wants(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, p := range ep.Events {
		if eventMatches(p, eventType) {
			return true
		}
	}
	return false
}

func eventMatches(pattern, eventType string) bool {
	switch {
	case pattern == eventType || pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, pattern[1:])
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, pattern[:len(pattern)-1])
	}
	return false
}

// ValidateURL accepts absolute http and https URLs.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url must have a host")
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by SignPayload. The "sha256="
// prefix sent in SignatureHeader is accepted.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}

type Option func(*Sink)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.client = c }
}

// WithRetryDelays sets the wait before each retry; its length is the retry count.
func WithRetryDelays(d ...time.Duration) Option {
	return func(s *Sink) { s.retryDelays = d }
}

func WithQueueSize(n int) Option {
	return func(s *Sink) { s.queueSize = n }
}

type job struct {
	ep  Endpoint
	evt events.Event
}

// Sink is an events.Publisher that posts each event to every subscribed
// endpoint from a background worker.
type Sink struct {
	endpoints   []Endpoint
	client      *http.Client
	retryDelays []time.Duration
	queueSize   int
	logger      zerolog.Logger

	queue chan job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	stats   map[string]int
}

func NewSink(endpoints []Endpoint, logger zerolog.Logger, opts ...Option) (*Sink, error) {
	for _, ep := range endpoints {
		if err := ValidateURL(ep.URL); err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ep.URL, err)
		}
	}
	s := &Sink{
		endpoints:   endpoints,
		client:      &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
		queueSize:   256,
		logger:      logger.With().Str("component", "webhook").Logger(),
		done:        make(chan struct{}),
		stats:       make(map[string]int),
	}
	for _, o := range opts {
		o(s)
	}
	s.queue = make(chan job, s.queueSize)
	go s.run()
	return s, nil
}

// Publish enqueues one delivery per subscribed endpoint without blocking.
func (s *Sink) Publish(_ context.Context, evt events.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ep := range s.endpoints {
		if !ep.wants(evt.Type) {
			continue
		}
		if s.closed {
			s.count("dropped")
			continue
		}
		select {
		case s.queue <- job{ep: ep, evt: evt}:
		default:
			s.count("dropped")
			s.logger.Warn().Str("event_id", evt.ID).Str("url", ep.URL).Msg("webhook queue full, dropping event")
		}
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for j := range s.queue {
		s.deliver(j)
	}
}

func (s *Sink) deliver(j job) {
	var err error
	for attempt := 0; ; attempt++ {
		if err = s.post(context.Background(), j.ep, j.evt); err == nil {
			s.count("delivered")
			return
		}
		if attempt >= len(s.retryDelays) {
			break
		}
		time.Sleep(s.retryDelays[attempt])
	}
	s.count("failed")
	s.logger.Error().Err(err).
		Str("event_id", j.evt.ID).
		Str("event_type", j.evt.Type).
		Str("url", j.ep.URL).
		Msg("webhook delivery failed")
}

func (s *Sink) post(ctx context.Context, ep Endpoint, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventIDHeader, evt.ID)
	req.Header.Set(TimestampHeader, evt.OccurredAt.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+SignPayload(payload, ep.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return nil
}

func (s *Sink) count(key string) {
	s.statsMu.Lock()
	s.stats[key]++
	s.statsMu.Unlock()
}

// Stats returns delivered, failed and dropped counts.
func (s *Sink) Stats() map[string]int {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]int, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

// Close stops accepting events and waits for queued deliveries until ctx is done.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
