package pipeline

import (
	"context"
	"time"

	"github.com/WessleyAI/storyboard/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// NATS subjects used by the pipeline.
const (
	SubjectGenerate  = "storyboard.generate"
	SubjectGenerated = "storyboard.generated"
	SubjectFailed    = "storyboard.failed"
	WorkerQueue      = "storyboard-workers"
)

// GeneratedEvent announces a newly persisted storyboard.
type GeneratedEvent struct {
	RequestID string    `json:"request_id"`
	Keyword   string    `json:"keyword"`
	Title     string    `json:"title"`
	Shape     string    `json:"shape"`
	Articles  int       `json:"articles"`
	Scenes    int       `json:"scenes"`
	RandomID  string    `json:"random_id"`
	At        time.Time `json:"at"`
}

// Notifier is told about every successful run.
type Notifier interface {
	Notify(ctx context.Context, ev GeneratedEvent) error
}

// NATSNotifier publishes GeneratedEvents.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

// NewNATSNotifier publishes on SubjectGenerated.
func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc, subject: SubjectGenerated}
}

func (n *NATSNotifier) Notify(ctx context.Context, ev GeneratedEvent) error {
	return natsutil.Publish(ctx, n.nc, n.subject, ev)
}

// Job is a queued generation request.
type Job struct {
	ID    string `json:"id"`
	Input Input  `json:"input"`
}

// FailedEvent reports a queued job that did not produce a storyboard.
type FailedEvent struct {
	JobID   string    `json:"job_id"`
	Keyword string    `json:"keyword"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Submit queues a job for a worker.
func Submit(ctx context.Context, nc *nats.Conn, j Job) error {
	return natsutil.Publish(ctx, nc, SubjectGenerate, j)
}
