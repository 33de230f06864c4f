package events

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
)

type NSQPublisher struct {
	p     *nsq.Producer
	topic string
}

func NewNSQPublisher(addr, topic string) (*NSQPublisher, error) {
	cfg := nsq.NewConfig()
	p, err := nsq.NewProducer(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	return &NSQPublisher{p: p, topic: topic}, nil
}

// Publish ignores key; NSQ has no partitioning. go-nsq's Publish takes no context.
func (n *NSQPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.p.Publish(n.topic, payload)
}

func (n *NSQPublisher) Close() error {
	if n.p != nil {
		n.p.Stop()
	}
	return nil
}
