package kafka

import (
	"errors"

	"github.com/Shopify/sarama"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopic 会：
// 1) 不存在就创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能加不能减）。
func EnsureTopic(admin sarama.ClusterAdmin, spec TopicSpec, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	descs, err := admin.DescribeTopics([]string{spec.Name})
	if err != nil {
		return pkgerrors.Wrapf(err, "describe topic %s", spec.Name)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	if !exists {
		minISR := "1"
		if spec.ReplicationFactor >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
			},
		}
		if err := admin.CreateTopic(spec.Name, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("topic exists (race)", zap.String("topic", spec.Name))
				return nil
			}
			return pkgerrors.Wrapf(err, "create topic %s", spec.Name)
		}
		log.Info("topic created", zap.String("topic", spec.Name),
			zap.Int32("partitions", spec.Partitions), zap.Int16("rf", spec.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if spec.Partitions > cur {
		if err := admin.CreatePartitions(spec.Name, spec.Partitions, nil, false); err != nil {
			return pkgerrors.Wrapf(err, "expand partitions %s %d->%d", spec.Name, cur, spec.Partitions)
		}
		log.Info("topic partitions expanded", zap.String("topic", spec.Name),
			zap.Int32("from", cur), zap.Int32("to", spec.Partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
