// Package publish fans merged spots and derived views out of the process:
// spots to Kafka, views to websocket subscribers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/KI7MT/ki7mt-dx-aggregator/internal/aggregator"
	"github.com/KI7MT/ki7mt-dx-aggregator/internal/spot"
)

// SpotEvent is the Kafka message body for one merged spot.
type SpotEvent struct {
	Seq      uint64    `json:"seq"`
	Source   string    `json:"source"`
	Call     string    `json:"call"`
	Spotter  string    `json:"spotter"`
	Freq     string    `json:"freq"`
	FreqMHz  float64   `json:"freqMHz"`
	Band     string    `json:"band,omitempty"`
	Mode     string    `json:"mode,omitempty"`
	Time     string    `json:"time"`
	Comment  string    `json:"comment"`
	Received time.Time `json:"received"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher produces every merged batch to a Kafka topic.
// It implements aggregator.Sink.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher creates a producer for topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

// Name implements aggregator.Sink.
func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish writes u.Batch in a single WriteMessages call.
func (p *KafkaPublisher) Publish(ctx context.Context, u aggregator.Update) error {
	if len(u.Batch) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(u.Batch))
	for i := range u.Batch {
		msg, err := serializeToMessage(u, u.Batch[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals one spot, keyed by DX callsign so a station's
// spots stay on one partition.
func serializeToMessage(u aggregator.Update, s spot.Spot) (kafkago.Message, error) {
	data, err := json.Marshal(SpotEvent{
		Seq:      u.Seq,
		Source:   s.Source,
		Call:     s.DXCall,
		Spotter:  s.Spotter,
		Freq:     s.Freq,
		FreqMHz:  s.FreqMHz,
		Band:     s.Band(),
		Mode:     s.Mode(),
		Time:     s.Time,
		Comment:  s.Comment,
		Received: u.At.UTC(),
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize spot %s: %w", s.DXCall, err)
	}
	return kafkago.Message{
		Key:   []byte(s.DXCall),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(s.Source)},
			{Key: "seq", Value: []byte(strconv.FormatUint(u.Seq, 10))},
		},
	}, nil
}
