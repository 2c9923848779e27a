package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/riverqueue/river"
)

// Message is the delivery payload handed to a Sink. Kind matches the
// job kind that produced it.
type Message struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Sink delivers one notification to the outside world (email relay,
// in-app inbox webhook). Delivery is at-most-once from the caller's
// point of view; River retries on transient failure.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// WebhookSink POSTs notifications to a configured endpoint.
type WebhookSink struct {
	URL        string
	httpClient *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// LogSink logs instead of delivering. Default when no webhook is set.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.Log.Info("notification", "kind", msg.Kind, "payload", string(msg.Payload))
	return nil
}

// River workers, one per notification kind.

type PointsChangedWorker struct {
	river.WorkerDefaults[PointsChangedArgs]
	sink Sink
}

func NewPointsChangedWorker(sink Sink) *PointsChangedWorker {
	return &PointsChangedWorker{sink: sink}
}

func (w *PointsChangedWorker) Work(ctx context.Context, job *river.Job[PointsChangedArgs]) error {
	return deliver(ctx, w.sink, job.Args.Kind(), job.Args)
}

type LowBalanceWorker struct {
	river.WorkerDefaults[LowBalanceArgs]
	sink Sink
}

func NewLowBalanceWorker(sink Sink) *LowBalanceWorker {
	return &LowBalanceWorker{sink: sink}
}

func (w *LowBalanceWorker) Work(ctx context.Context, job *river.Job[LowBalanceArgs]) error {
	return deliver(ctx, w.sink, job.Args.Kind(), job.Args)
}

type DisputeResolvedWorker struct {
	river.WorkerDefaults[DisputeResolvedArgs]
	sink Sink
}

func NewDisputeResolvedWorker(sink Sink) *DisputeResolvedWorker {
	return &DisputeResolvedWorker{sink: sink}
}

func (w *DisputeResolvedWorker) Work(ctx context.Context, job *river.Job[DisputeResolvedArgs]) error {
	return deliver(ctx, w.sink, job.Args.Kind(), job.Args)
}

func deliver(ctx context.Context, sink Sink, kind string, args any) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return sink.Deliver(ctx, Message{Kind: kind, Payload: payload})
}
