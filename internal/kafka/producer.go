package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer buffers messages in an inbox channel and writes them from a
// single goroutine, so callers never block on the broker.
type Producer struct {
	w       *kafka.Writer
	log     *zap.Logger
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int, log *zap.Logger) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		log:     log,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				// flush what is already buffered; only Close() may close
				// the inbox, so a concurrent Close() cannot double-close
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							p.finish()
							return
						}
						p.write(m)
					default:
						p.finish()
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					p.finish()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) finish() {
	_ = p.w.Close()
	close(p.closeCh)
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		p.log.Error("kafka write", zap.String("topic", p.w.Topic), zap.Error(err))
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops intake; the loop flushes the remaining messages and exits.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the flush is done.
func (p *Producer) WaitClosed() { <-p.closeCh }
