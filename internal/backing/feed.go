package backing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"workshop-sync/internal/models"
	"workshop-sync/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// FeedWriter publishes change events to the shared Kafka topic.
type FeedWriter struct {
	writer *kafka.Writer
}

// NewFeedWriter creates a Kafka producer for the change feed.
func NewFeedWriter(brokers []string, topic string) *FeedWriter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &FeedWriter{writer: writer}
}

// Publish writes one change event, keyed by table and row id so changes to
// the same row stay ordered.
func (w *FeedWriter) Publish(ctx context.Context, event models.ChangeEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%s", event.Table, event.RowID())),
		Value: raw,
		Time:  time.Now(),
	}

	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write change event to kafka: %w", err)
	}

	return nil
}

// Close closes the producer.
func (w *FeedWriter) Close() error {
	return w.writer.Close()
}

// Dispatcher fans change events out to per-table subscribers. It implements
// Feed for the reconciliation layer and for tests.
type Dispatcher struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]func(models.ChangeEvent)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]map[int]func(models.ChangeEvent))}
}

// Subscribe registers a handler for one table's events.
func (d *Dispatcher) Subscribe(table string, handler func(models.ChangeEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handlers[table] == nil {
		d.handlers[table] = make(map[int]func(models.ChangeEvent))
	}
	id := d.nextID
	d.nextID++
	d.handlers[table][id] = handler

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers[table], id)
	}
}

// Dispatch delivers one event to that table's subscribers.
func (d *Dispatcher) Dispatch(event models.ChangeEvent) {
	d.mu.RLock()
	handlers := make([]func(models.ChangeEvent), 0, len(d.handlers[event.Table]))
	for _, h := range d.handlers[event.Table] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// FeedReader consumes the change feed topic for one session.
type FeedReader struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewFeedReader creates a Kafka consumer. Each session uses its own group id
// so every session sees every event.
func NewFeedReader(brokers []string, topic, groupID string) *FeedReader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &FeedReader{reader: reader, logger: util.GetLogger()}
}

// Run consumes events and hands them to the dispatcher until ctx is done.
func (r *FeedReader) Run(ctx context.Context, dispatcher *Dispatcher) error {
	r.logger.Info("Starting change feed consumer",
		zap.String("topic", r.reader.Config().Topic))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Change feed consumer stopping")
			return ctx.Err()
		default:
			msg, err := r.reader.FetchMessage(ctx)
			if err != nil {
				r.logger.Warn("Error fetching change event", zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			var event models.ChangeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				r.logger.Warn("Malformed change event skipped", zap.Error(err))
			} else {
				dispatcher.Dispatch(event)
			}

			if err := r.reader.CommitMessages(ctx, msg); err != nil {
				r.logger.Warn("Error committing change event", zap.Error(err))
			}
		}
	}
}

// Close closes the consumer.
func (r *FeedReader) Close() error {
	return r.reader.Close()
}
