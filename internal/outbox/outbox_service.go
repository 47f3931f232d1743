package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultInterval = 5 * time.Second
	batchSize       = 10
	maxAttempts     = 5
)

// Writer is the part of *kafka.Writer the processor uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Processor struct {
	repo     Repository
	writer   Writer
	logger   *zap.Logger
	interval time.Duration
}

func NewProcessor(repo Repository, writer Writer, logger *zap.Logger) *Processor {
	return &Processor{
		repo:     repo,
		writer:   writer,
		logger:   logger,
		interval: defaultInterval,
	}
}

// NewKafkaWriter returns a writer publishing to topic on broker.
func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Start polls for pending events until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce publishes one batch of pending events and returns how many were sent.
func (p *Processor) RunOnce(ctx context.Context) int {
	events, err := p.repo.ListPending(ctx, batchSize)
	if err != nil {
		p.logger.Error("outbox fetch failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, e := range events {
		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "aggregate_type", Value: []byte(e.AggregateType)},
			},
		})
		if err != nil {
			p.logger.Warn("kafka publish failed",
				zap.String("event_id", e.ID),
				zap.Int("attempt", e.Attempts+1),
				zap.Error(err))
			if markErr := p.repo.MarkFailed(ctx, e.ID, err, maxAttempts); markErr != nil {
				p.logger.Error("outbox mark failed", zap.String("event_id", e.ID), zap.Error(markErr))
			}
			continue
		}

		if err := p.repo.MarkSent(ctx, e.ID); err != nil {
			p.logger.Error("outbox mark sent", zap.String("event_id", e.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}
