// Package kafka publishes search results to a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	pkgerrors "github.com/GUI0609/rdkit/pkg/errors"
)

var (
	ErrProducerClosed = pkgerrors.New(pkgerrors.ErrCodeInternal, "producer closed")
	ErrPublishFailed  = pkgerrors.New(pkgerrors.ErrCodePublishFailed, "publish failed")
)

// DefaultMaxMessageBytes bounds a single message value.
const DefaultMaxMessageBytes = 1 << 20

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is one record to publish on the producer's topic.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// BatchItemError reports the failure of one message of a batch.  Index is -1
// when the whole batch failed.
type BatchItemError struct {
	Index int
	Error error
}

// BatchResult summarises PublishBatch.
type BatchResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// Producer writes messages to one topic.
type Producer struct {
	writer   WriterInterface
	topic    string
	maxBytes int
	logger   logging.Logger
	closed   atomic.Bool
	sent     atomic.Int64
	failed   atomic.Int64
}

// NewProducer builds a Producer from configuration.
func NewProducer(cfg config.KafkaConfig, log logging.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, pkgerrors.New(pkgerrors.ErrCodeValidation, "kafka topic required")
	}

	var acks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		acks = kafka.RequireNone
	case "all":
		acks = kafka.RequireAll
	default:
		acks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: acks,
		Compression:  kafka.Snappy,
		Transport:    &kafka.Transport{DialTimeout: 10 * time.Second},
	}
	return NewProducerWithWriter(writer, cfg.Topic, log), nil
}

// NewProducerWithWriter wraps an existing writer.  topic is informational.
func NewProducerWithWriter(w WriterInterface, topic string, log logging.Logger) *Producer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Producer{writer: w, topic: topic, maxBytes: DefaultMaxMessageBytes, logger: log}
}

// PublishBatch writes msgs in one call.  Per-message failures are reported
// in the result; an error is returned only when nothing could be attempted.
func (p *Producer) PublishBatch(ctx context.Context, msgs []Message) (*BatchResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return &BatchResult{}, nil
	}

	result := &BatchResult{}
	kMsgs := make([]kafka.Message, 0, len(msgs))
	index := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		if len(msg.Value) == 0 || len(msg.Value) > p.maxBytes {
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{Index: i,
				Error: ErrPublishFailed.WithDetail("message value empty or too large")})
			continue
		}
		kMsgs = append(kMsgs, toKafkaMessage(msg))
		index = append(index, i)
	}

	if len(kMsgs) > 0 {
		err := p.writer.WriteMessages(ctx, kMsgs...)
		var writeErrs kafka.WriteErrors
		switch {
		case err == nil:
			result.Succeeded += len(kMsgs)
		case errors.As(err, &writeErrs):
			for j, we := range writeErrs {
				if we != nil {
					result.Failed++
					result.Errors = append(result.Errors, BatchItemError{Index: index[j], Error: we})
				} else {
					result.Succeeded++
				}
			}
		default:
			result.Failed += len(kMsgs)
			result.Errors = append(result.Errors, BatchItemError{Index: -1,
				Error: pkgerrors.Wrap(err, pkgerrors.ErrCodePublishFailed, "publish failed")})
		}
	}

	p.sent.Add(int64(result.Succeeded))
	p.failed.Add(int64(result.Failed))
	p.logger.Debug("batch published",
		logging.String("topic", p.topic),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

// Sent returns the number of messages written successfully.
func (p *Producer) Sent() int64 { return p.sent.Load() }

// Failed returns the number of messages that could not be written.
func (p *Producer) Failed() int64 { return p.failed.Load() }

// Close flushes and closes the writer once.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Debug("kafka producer closed", logging.Int64("sent", p.sent.Load()))
	return err
}

func toKafkaMessage(msg Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
		Time:    time.Now(),
	}
}
