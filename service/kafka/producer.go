package kafka

import (
	"context"
	"encoding/json"
	"time"

	"PSocial/service/presence"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type PresenceRecord struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Node   string `json:"node"`
	At     int64  `json:"at"`
}

// PresenceProducer 把状态变化写进 Kafka，key=userId，下游可以重放在线历史
type PresenceProducer struct {
	prod  sarama.SyncProducer
	topic string
	node  string
	now   func() time.Time
}

func NewPresenceProducer(prod sarama.SyncProducer, topic, node string) *PresenceProducer {
	return &PresenceProducer{prod: prod, topic: topic, node: node, now: time.Now}
}

func NewPresenceProducerFromClient(client sarama.Client, topic, node string) (*PresenceProducer, error) {
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, errors.Wrap(err, "kafka sync producer")
	}
	return NewPresenceProducer(p, topic, node), nil
}

func (p *PresenceProducer) Name() string { return "kafka" }

func (p *PresenceProducer) UpdateStatus(ctx context.Context, userID string, status presence.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(PresenceRecord{
		UserID: userID,
		Status: string(status),
		Node:   p.node,
		At:     p.now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "encode presence record")
	}
	_, _, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return errors.Wrapf(err, "send presence %s", userID)
	}
	return nil
}

func (p *PresenceProducer) Close() error { return p.prod.Close() }
