package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var ErrPublisherClosed = errors.New("publisher closed")

// KafkaPublisher buffers envelopes in an inbox drained by a single writer
// goroutine. Writes are async; failures are logged by the writer completion.
type KafkaPublisher struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}
	log   logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
}

func NewKafkaPublisher(brokers []string, topic string, buf int, log logrus.FieldLogger) *KafkaPublisher {
	p := &KafkaPublisher{
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		log:   log,
	}
	p.w = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				p.log.WithError(err).WithField("messages", len(msgs)).Error("kafka write failed")
			}
		},
	}
	return p
}

func (p *KafkaPublisher) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.log.WithError(err).WithField("key", string(m.Key)).Error("kafka enqueue failed")
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.WithError(err).Warn("kafka writer close")
		}
	}()
}

// Publish never blocks longer than ctx allows.
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	m := kafka.Message{
		Key:   PartitionKey(env.CorrelationID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(env.EventType)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "publish "+env.EventType)
	}
}

// Close stops accepting events, flushes the inbox and closes the writer.
// Start must have been called.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}
