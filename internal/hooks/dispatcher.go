// Package hooks fans out applied attributions to downstream services. The
// attribution write path never blocks on a hook: events are queued to a
// bounded channel and dropped with a log line when the queue is full.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heartwood-builders/attribution/internal/config"
)

// Event is one applied span attribution.
type Event struct {
	SpanID        string    `json:"span_id"`
	InteractionID string    `json:"interaction_id"`
	ProjectID     string    `json:"project_id"`
	AttributedAt  time.Time `json:"attributed_at"`
}

// Dispatcher posts events to the configured hook endpoints from a single
// background worker.
type Dispatcher struct {
	queue   chan Event
	client  *http.Client
	urls    []string
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

func NewDispatcher(cfg config.HooksConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 64
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var urls []string
	if cfg.JournalExtractURL != "" {
		urls = append(urls, cfg.JournalExtractURL)
	}
	if cfg.SummaryURL != "" {
		urls = append(urls, cfg.SummaryURL)
	}

	d := &Dispatcher{
		queue:  make(chan Event, size),
		client: &http.Client{Timeout: timeout},
		urls:   urls,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// SpanAttributed queues a hook event. Never blocks; a full or closed queue
// drops the event.
func (d *Dispatcher) SpanAttributed(spanID, interactionID, projectID string) {
	event := Event{
		SpanID:        spanID,
		InteractionID: interactionID,
		ProjectID:     projectID,
		AttributedAt:  time.Now().UTC(),
	}

	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		zap.L().Warn("hook dispatcher closed, dropping event",
			zap.String("span_id", spanID),
			zap.String("project_id", projectID),
		)
		return
	}
	select {
	case d.queue <- event:
	default:
		zap.L().Warn("hook queue full, dropping event",
			zap.String("span_id", spanID),
			zap.String("project_id", projectID),
		)
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, url := range d.urls {
			d.post(url, event)
		}
	}
}

func (d *Dispatcher) post(url string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("hook payload marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		zap.L().Error("hook request build failed", zap.String("url", url), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		zap.L().Warn("hook delivery failed",
			zap.String("url", url),
			zap.String("span_id", event.SpanID),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		zap.L().Warn("hook rejected",
			zap.String("url", url),
			zap.String("span_id", event.SpanID),
			zap.Int("status", resp.StatusCode),
		)
		return
	}
	zap.L().Debug("hook delivered",
		zap.String("url", url),
		zap.String("span_id", event.SpanID),
	)
}
