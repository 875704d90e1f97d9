package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type Config struct {
	Brokers  []string
	ClientID string
	Retries  int
}

func newSaramaConfig(c Config) *sarama.Config {
	config := sarama.NewConfig()
	if c.ClientID != "" {
		config.ClientID = c.ClientID
	}
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = c.Retries
	// 按 key（userId）分区，保证同一用户的事件有序
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = false
	config.Version = sarama.V2_1_0_0
	return config
}

func NewClient(c Config) (sarama.Client, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	client, err := sarama.NewClient(c.Brokers, newSaramaConfig(c))
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	return client, nil
}
