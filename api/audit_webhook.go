package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// webhookQueueSize is the bounded channel capacity for outbound audit events.
	webhookQueueSize = 1024
	// webhookAttempts is the first delivery plus one retry.
	webhookAttempts  = 2
	webhookUserAgent = "RoleBroker-Audit-Webhook/1.0"
)

// webhookEvent is the JSON payload POSTed to the external endpoint. It
// carries the same fields as a chain entry, minus the chain links.
type webhookEvent struct {
	Event      string `json:"event"`
	RoleARN    string `json:"role_arn,omitempty"`
	Session    string `json:"session,omitempty"`
	Detail     string `json:"detail,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func newWebhookEvent(event AuditEvent, remoteAddr string, rec auditRecord, at time.Time) webhookEvent {
	return webhookEvent{
		Event:      string(event),
		RoleARN:    rec.RoleARN,
		Session:    rec.Session,
		Detail:     rec.Detail,
		RemoteAddr: remoteAddr,
		Timestamp:  at.UTC().Format(time.RFC3339),
	}
}

// auditWebhook forwards audit events to an operator's collector. enqueue
// never blocks the request path: when the queue is full the event is
// dropped and only the local log and chain keep it.
type auditWebhook struct {
	url        string
	header     [2]string
	client     *http.Client
	retryDelay time.Duration
	events     chan webhookEvent
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// newAuditWebhook starts a dispatcher for url. extraHeader is "Name: Value"
// and is sent with every delivery, typically an Authorization header.
func newAuditWebhook(url, extraHeader string) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		header:     parseHeaderLine(extraHeader),
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func parseHeaderLine(line string) [2]string {
	name, value, ok := strings.Cut(line, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return [2]string{}
	}
	return [2]string{name, strings.TrimSpace(value)}
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		slog.Warn("audit webhook: queue full, dropping event", "event", evt.Event, "session", evt.Session)
	}
}

// close stops accepting events and waits until the queue is drained.
func (w *auditWebhook) close() {
	w.closeOnce.Do(func() {
		close(w.events)
	})
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.deliver(evt)
	}
}

// deliver POSTs evt, retrying once after a transport error or a 5xx.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("audit webhook: marshal failed", "event", evt.Event, "error", err)
		return
	}
	for attempt := 1; attempt <= webhookAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		retry, err := w.post(body)
		if err == nil {
			return
		}
		slog.Warn("audit webhook: delivery failed", "event", evt.Event, "attempt", attempt, "error", err)
		if !retry {
			return
		}
	}
}

// post sends one delivery. retry reports whether a failure is worth
// another attempt.
func (w *auditWebhook) post(body []byte) (retry bool, err error) {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if w.header[0] != "" {
		req.Header.Set(w.header[0], w.header[1])
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("collector returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("collector rejected event with %d", resp.StatusCode)
	}
}
