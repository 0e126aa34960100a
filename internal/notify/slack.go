package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/trading-dashboard/internal/config"
	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Fields []SlackField `json:"fields"`
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type queuedToast struct {
	toast     Toast
	attempts  int
	nextRetry time.Time
}

// SlackSink forwards toasts to an incoming webhook from a background worker.
type SlackSink struct {
	cfg         config.Slack
	httpClient  *http.Client
	queue       chan queuedToast
	dedupeCache map[string]time.Time
	limiter     *rate.Limiter
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	metrics     SlackMetrics
}

type SlackMetrics struct {
	Sent          int64
	WebhookErrors int64
	RateLimited   int64
	Deduped       int64
	Dropped       int64
}

// dedupe window for identical toasts
const slackDedupeWindow = 60 * time.Second

func NewSlackSink(cfg config.Slack) *SlackSink {
	ctx, cancel := context.WithCancel(context.Background())
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 10
	}
	s := &SlackSink{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		queue:       make(chan queuedToast, 100),
		dedupeCache: make(map[string]time.Time),
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

func (s *SlackSink) Notify(t Toast) {
	if !s.cfg.Enabled {
		return
	}

	hash := toastHash(t)
	now := time.Now()
	s.mu.Lock()
	if last, ok := s.dedupeCache[hash]; ok && now.Sub(last) < slackDedupeWindow {
		s.metrics.Deduped++
		s.mu.Unlock()
		return
	}
	s.dedupeCache[hash] = now
	for h, ts := range s.dedupeCache {
		if now.Sub(ts) > 5*slackDedupeWindow {
			delete(s.dedupeCache, h)
		}
	}
	s.mu.Unlock()

	if !s.limiter.Allow() {
		s.mu.Lock()
		s.metrics.RateLimited++
		s.mu.Unlock()
		return
	}

	select {
	case s.queue <- queuedToast{toast: t, nextRetry: now}:
	default:
		s.mu.Lock()
		s.metrics.Dropped++
		s.mu.Unlock()
	}
}

func toastHash(t Toast) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", t.Variant, t.Title, t.Description)))
	return fmt.Sprintf("%x", sum)[:16]
}

func (s *SlackSink) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.queue:
			if wait := time.Until(item.nextRetry); wait > 0 {
				select {
				case <-time.After(wait):
				case <-s.ctx.Done():
					return
				}
			}
			if s.send(item.toast) {
				s.mu.Lock()
				s.metrics.Sent++
				s.mu.Unlock()
				continue
			}
			item.attempts++
			if item.attempts >= 3 {
				s.mu.Lock()
				s.metrics.WebhookErrors++
				s.mu.Unlock()
				continue
			}
			// exponential backoff with jitter
			backoff := time.Duration(math.Pow(2, float64(item.attempts))) * time.Second
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			item.nextRetry = time.Now().Add(backoff + jitter)
			select {
			case s.queue <- item:
			default:
				s.mu.Lock()
				s.metrics.Dropped++
				s.mu.Unlock()
			}
		}
	}
}

func (s *SlackSink) send(t Toast) bool {
	payload, err := json.Marshal(s.formatMessage(t))
	if err != nil {
		observ.Log("slack_marshal_failed", map[string]any{"error": err.Error(), "level": "error"})
		return false
	}

	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		observ.Log("slack_webhook_error", map[string]any{"error": err.Error(), "level": "warn"})
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observ.Log("slack_webhook_failed", map[string]any{"status": resp.StatusCode, "level": "warn"})
		return false
	}
	return true
}

func (s *SlackSink) formatMessage(t Toast) SlackMessage {
	emoji, color := "ℹ️", "good"
	switch t.Variant {
	case VariantWarning:
		emoji, color = "⚠️", "warning"
	case VariantDestructive:
		emoji, color = "🛑", "danger"
	}

	at := t.At
	if at.IsZero() {
		at = time.Now()
	}
	return SlackMessage{
		Channel: s.cfg.Channel,
		Text:    fmt.Sprintf("%s %s", emoji, t.Title),
		Attachments: []SlackAttachment{{
			Color: color,
			Fields: []SlackField{
				{Title: "Detail", Value: t.Description, Short: false},
				{Title: "Time", Value: at.Format("15:04:05 MST"), Short: true},
			},
		}},
	}
}

// Close stops the worker; queued toasts are discarded.
func (s *SlackSink) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *SlackSink) Metrics() SlackMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
