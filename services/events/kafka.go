package eventsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
)

// NewSyncProducer connects to the brokers, retrying while they come up.
func NewSyncProducer(conf *core.Config, logger core.Logger) (sarama.SyncProducer, error) {
	sc := sarama.NewConfig()
	sc.ClientID = conf.AppName
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Idempotent = true
	sc.Net.MaxOpenRequests = 1

	var (
		producer sarama.SyncProducer
		err      error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		if producer, err = sarama.NewSyncProducer(conf.Kafka.Brokers, sc); err == nil {
			return producer, nil
		}
		logger.Warn(fmt.Sprintf("waiting for kafka (%d/5): %v", attempt, err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	return nil, errors.Wrap(err, "connecting to kafka")
}

// KafkaPublisher publishes domain events as JSON, one topic per event name, keyed by aggregate ID.
type KafkaPublisher struct {
	producer    sarama.SyncProducer
	topicPrefix string
}

var _ core.EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(producer sarama.SyncProducer, conf *core.Config) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topicPrefix: conf.Kafka.TopicPrefix}
}

// Topic returns the topic an event name is published to.
func (p *KafkaPublisher) Topic(name string) string {
	return p.topicPrefix + strings.ReplaceAll(name, "_", "-")
}

func (p *KafkaPublisher) Publish(_ context.Context, events ...core.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.Wrapf(err, "encoding %s event", e.Name)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:     p.Topic(e.Name),
			Key:       sarama.StringEncoder(e.Key),
			Value:     sarama.ByteEncoder(data),
			Timestamp: e.OccurredAt,
		})
	}
	if len(msgs) == 1 {
		_, _, err := p.producer.SendMessage(msgs[0])
		return errors.Wrap(err, "sending event")
	}
	return errors.Wrap(p.producer.SendMessages(msgs), "sending events")
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
