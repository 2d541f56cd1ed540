package publisher

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"

	"github.com/segmentio/kafka-go"
)

// kafka.Writer の必要な部分だけ
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// outbox_events を読んで Kafka に流す。送れたものだけ published にする（at-least-once）
type OutboxPoller struct {
	tx        repo.TransactionManager
	writer    MessageWriter
	log       *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(tx repo.TransactionManager, writer MessageWriter, log *slog.Logger, interval time.Duration) *OutboxPoller {
	if interval <= 0 {
		interval = time.Second
	}
	return &OutboxPoller{
		tx:        tx,
		writer:    writer,
		log:       log,
		interval:  interval,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "outbox publish failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			if err := p.writer.Close(); err != nil {
				p.log.Warn("kafka writer close failed", slog.Any("error", err))
			}
			return
		}
	}
}

// 1回分。送った件数を返す。途中で失敗したらそこで止める（順序を崩さない）
func (p *OutboxPoller) PublishPending(ctx context.Context) (int, error) {
	var events []model.OutboxEvent
	err := p.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		events, err = r.Outbox().ListUnpublished(ctx, p.batchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, ev := range events {
		if err := p.writer.WriteMessages(ctx, toMessage(ev)); err != nil {
			return n, err
		}
		err := p.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			return r.Outbox().MarkPublished(ctx, ev.ID, p.now())
		})
		if err != nil {
			//次の周回で同じイベントがもう一度送られる
			return n, err
		}
		n++
	}
	if n > 0 {
		p.log.DebugContext(ctx, "outbox events published", slog.Int("count", n))
	}
	return n, nil
}

// 同じ集約のイベントは同じパーティションへ
func toMessage(ev model.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(ev.AggregateType + ":" + strconv.FormatInt(ev.AggregateID, 10)),
		Value: []byte(ev.Payload),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "event_type", Value: []byte(ev.EventType)},
		},
		Time: ev.CreatedAt,
	}
}
