package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ifuryst/syndicate/internal/config"
)

// Publisher delivers one encoded event. key groups events for the same job.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
	Close() error
}

// NewPublisher builds the publisher selected by events.driver. It returns nil for "none".
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "log":
		return NewLogPublisher(logger), nil
	case "nsq":
		p, err := NewNSQPublisher(cfg.NSQ.Addr, cfg.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Topic)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported events driver: %s", cfg.Driver)
	}
}

// LogPublisher writes events to the application log
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	p.logger.Info("Distribution event", zap.String("key", key), zap.ByteString("payload", payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
