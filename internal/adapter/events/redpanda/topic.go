package redpanda

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kmsg"
)

// errTopicAlreadyExists is the TOPIC_ALREADY_EXISTS protocol error code.
const errTopicAlreadyExists int16 = 36

// ensureTopic creates the topic through the admin API. An existing topic is not an error.
func ensureTopic(ctx context.Context, client kafkaClient, topic string, partitions int32, replicas int16) error {
	if topic == "" {
		return fmt.Errorf("op=redpanda.ensureTopic: topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("op=redpanda.ensureTopic: partitions must be greater than 0")
	}
	if replicas <= 0 {
		return fmt.Errorf("op=redpanda.ensureTopic: replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	t := kmsg.NewCreateTopicsRequestTopic()
	t.Topic = topic
	t.NumPartitions = partitions
	t.ReplicationFactor = replicas
	req.Topics = append(req.Topics, t)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=redpanda.ensureTopic: %w", err)
	}
	created, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=redpanda.ensureTopic: unexpected response type %T", resp)
	}
	for _, tr := range created.Topics {
		switch tr.ErrorCode {
		case 0:
			slog.Info("topic created", slog.String("topic", tr.Topic), slog.Int("partitions", int(partitions)))
		case errTopicAlreadyExists:
			slog.Debug("topic already exists", slog.String("topic", tr.Topic))
		default:
			msg := ""
			if tr.ErrorMessage != nil {
				msg = *tr.ErrorMessage
			}
			return fmt.Errorf("op=redpanda.ensureTopic: create %s: %s (code %d)", tr.Topic, msg, tr.ErrorCode)
		}
	}
	return nil
}
