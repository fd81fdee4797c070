// Package notification turns appointment events into client messages. A
// Dispatcher subscribes as an events.Publisher, renders the template for the
// event type and hands the result to a Sender on a background worker.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetcare/vetcare/internal/platform/events"
)

// ---------------------------------------------------------------------------
// Notification
// ---------------------------------------------------------------------------

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	EventID      string            `json:"event_id,omitempty"`
	Status       string            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n *Notification) error

func (f SenderFunc) Send(ctx context.Context, n *Notification) error { return f(ctx, n) }

// LogSender writes notifications to the log instead of an external gateway.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n *Notification) error {
	s.Logger.Info().
		Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("recipient", n.Recipient).
		Str("template_id", n.TemplateID).
		Str("subject", n.Subject).
		Msg(n.Body)
	return nil
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine holds templates keyed by id and renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the appointment templates
// registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-confirmed",
			Name:    "Appointment Confirmed",
			Subject: "Your appointment on {{date}} is confirmed",
			Body:    "Your {{type}} appointment on {{date}} from {{start_time}} to {{end_time}} is confirmed.{{meeting}}",
			Channel: ChannelEmail,
		},
		{
			ID:      "appointment-declined",
			Name:    "Appointment Declined",
			Subject: "Your appointment request for {{date}} was declined",
			Body:    "Your request for {{date}} at {{start_time}} could not be accepted.{{reason_line}} Please choose another time.",
			Channel: ChannelEmail,
		},
		{
			ID:      "appointment-cancelled",
			Name:    "Appointment Cancelled",
			Subject: "Your appointment on {{date}} was cancelled",
			Body:    "Your appointment on {{date}} at {{start_time}} has been cancelled.{{reason_line}}",
			Channel: ChannelEmail,
		},
		{
			ID:      "appointment-completed",
			Name:    "Visit Completed",
			Subject: "Thank you for your visit on {{date}}",
			Body:    "Your {{type}} appointment on {{date}} is complete. Visit notes are available in your account.",
			Channel: ChannelEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills a template. Placeholders missing from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, ch Channel, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, t.Channel, nil
}

// templateFor maps an event type such as "appointment.confirmed" to its
// template id.
func templateFor(eventType string) string {
	return strings.ReplaceAll(eventType, ".", "-")
}

// templateData adds the derived placeholders the templates use.
func templateData(data map[string]string) map[string]string {
	out := make(map[string]string, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	out["reason_line"] = ""
	if r := data["reason"]; r != "" {
		out["reason_line"] = " Reason: " + r + "."
	}
	out["meeting"] = ""
	if u := data["meeting_url"]; u != "" {
		out["meeting"] = " Join the video call at " + u + "."
	}
	return out
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

var ErrClosed = errors.New("dispatcher closed")

type Config struct {
	QueueSize  int
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	// SendTimeout bounds a single delivery attempt.
	SendTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		Workers:     2,
		MaxRetries:  3,
		RetryDelay:  500 * time.Millisecond,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher implements events.Publisher. Publish only enqueues; delivery and
// retries happen on worker goroutines. A full queue drops the event with a
// log line.
type Dispatcher struct {
	sender    Sender
	templates *TemplateEngine
	logger    zerolog.Logger
	cfg       Config

	queue  chan *Notification
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	statsMu sync.Mutex
	stats   map[string]int
}

func NewDispatcher(sender Sender, tpl *TemplateEngine, logger zerolog.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if tpl == nil {
		tpl = NewTemplateEngine()
	}

	d := &Dispatcher{
		sender:    sender,
		templates: tpl,
		logger:    logger.With().Str("component", "notification").Logger(),
		cfg:       cfg,
		queue:     make(chan *Notification, cfg.QueueSize),
		stats:     make(map[string]int),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Publish renders the event and queues it for delivery. Events without a
// template or recipient are ignored.
func (d *Dispatcher) Publish(_ context.Context, evt events.Event) {
	n, err := d.build(evt)
	if err != nil {
		d.logger.Debug().Err(err).Str("event_type", evt.Type).Msg("event not notified")
		return
	}
	if err := d.enqueue(n); err != nil {
		d.count("dropped")
		d.logger.Warn().Err(err).Str("event_id", evt.ID).Str("recipient", n.Recipient).Msg("notification dropped")
	}
}

func (d *Dispatcher) build(evt events.Event) (*Notification, error) {
	recipient := evt.Data["recipient"]
	if recipient == "" {
		return nil, errors.New("event has no recipient")
	}
	tplID := templateFor(evt.Type)
	data := templateData(evt.Data)
	subject, body, ch, err := d.templates.Render(tplID, data)
	if err != nil {
		return nil, err
	}
	return &Notification{
		ID:           uuid.NewString(),
		Channel:      ch,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   tplID,
		TemplateData: evt.Data,
		EventID:      evt.ID,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (d *Dispatcher) enqueue(n *Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- n:
		return nil
	default:
		return errors.New("notification queue full")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n *Notification) {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 && d.cfg.RetryDelay > 0 {
			time.Sleep(d.cfg.RetryDelay * time.Duration(attempt))
		}
		n.Attempts++
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		err = d.sender.Send(ctx, n)
		cancel()
		if err == nil {
			sentAt := time.Now().UTC()
			n.Status, n.SentAt, n.Error = StatusSent, &sentAt, ""
			d.count(StatusSent)
			return
		}
	}
	n.Status, n.Error = StatusFailed, err.Error()
	d.count(StatusFailed)
	d.logger.Error().Err(err).
		Str("notification_id", n.ID).
		Str("event_id", n.EventID).
		Str("recipient", n.Recipient).
		Int("attempts", n.Attempts).
		Msg("notification delivery failed")
}

func (d *Dispatcher) count(status string) {
	d.statsMu.Lock()
	d.stats[status]++
	d.statsMu.Unlock()
}

// Stats returns delivery counts by outcome.
func (d *Dispatcher) Stats() map[string]int {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	out := make(map[string]int, len(d.stats))
	for k, v := range d.stats {
		out[k] = v
	}
	return out
}

// Close stops accepting events and waits for queued deliveries, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
