package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/rustyeddy/afts/internal/logger"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
	// Kinds limits what is published; empty means everything but equity.
	Kinds []Kind `yaml:"kinds" mapstructure:"kinds"`
}

// Enabled reports whether a broker and topic are configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON keyed by symbol.
type KafkaSink struct {
	w       MessageWriter
	kinds   map[Kind]bool
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewKafkaWriter returns an async batching writer for cfg.
func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}
}

func NewKafkaSink(w MessageWriter, kinds []Kind, log logrus.FieldLogger) *KafkaSink {
	s := &KafkaSink{w: w, timeout: 5 * time.Second, log: logger.OrDiscard(log).WithField("component", "kafka-sink")}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	return s
}

func (s *KafkaSink) wants(k Kind) bool {
	if s.kinds == nil {
		return k != KindEquity
	}
	return s.kinds[k]
}

func (s *KafkaSink) Emit(e Event) {
	if !s.wants(e.Kind) {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Error("marshal event")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(e.Symbol), Value: data, Time: e.Time}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.log.WithError(err).WithField("kind", e.Kind).Warn("failed to send event to kafka")
	}
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}
