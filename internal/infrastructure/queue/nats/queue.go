package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/infrastructure/resilience"
)

const workerGroup = "workers"

type Queue struct {
	conn           *nats.Conn
	uploadSubject  string
	indexedSubject string
	executor       *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, uploadSubject, indexedSubject string) (*Queue, error) {
	return NewWithOptions(url, uploadSubject, indexedSubject, Options{})
}

func NewWithOptions(url, uploadSubject, indexedSubject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("grounded-qa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:           conn,
		uploadSubject:  uploadSubject,
		indexedSubject: indexedSubject,
		executor:       options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping reports whether the connection is usable.
func (q *Queue) Ping(_ context.Context) error {
	if status := q.conn.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status)
	}
	return nil
}

func (q *Queue) PublishUpload(ctx context.Context, event domain.UploadEvent) error {
	return q.publish(ctx, q.uploadSubject, event)
}

func (q *Queue) PublishIndexed(ctx context.Context, event domain.IndexEvent) error {
	return q.publish(ctx, q.indexedSubject, event)
}

// SubscribeUploads load-balances upload events across workers and blocks
// until ctx is done.
func (q *Queue) SubscribeUploads(ctx context.Context, handler func(context.Context, domain.UploadEvent) error) error {
	return subscribe(ctx, q, q.uploadSubject, workerGroup, handler)
}

// SubscribeIndexed delivers every index event to every subscriber.
func (q *Queue) SubscribeIndexed(ctx context.Context, handler func(context.Context, domain.IndexEvent) error) error {
	return subscribe(ctx, q, q.indexedSubject, "", handler)
}

func (q *Queue) publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if err := q.executor.Execute(ctx, "nats.publish", call, classifyNATSError); err != nil {
		return resilience.WrapTemporary("nats publish", err, classifyNATSError)
	}
	return nil
}

func subscribe[T any](ctx context.Context, q *Queue, subject, group string, handler func(context.Context, T) error) error {
	onMsg := func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("nats_event_decode_failed", "subject", subject, "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			slog.Error("nats_handler_failed", "subject", subject, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = q.conn.QueueSubscribe(subject, group, onMsg)
	} else {
		sub, err = q.conn.Subscribe(subject, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
