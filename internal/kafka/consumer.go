package kafka

import (
	"context"
	"log"

	"github.com/IBM/sarama"
)

// eventHandler prints every order event in the consumed topic. It backs the
// eventtail tool used to watch the pipeline during debugging.
type eventHandler struct{}

func (eventHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (eventHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h eventHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log.Printf("order event: partition=%d offset=%d %s", msg.Partition, msg.Offset, string(msg.Value))
		session.MarkMessage(msg, "")
	}
	return nil
}

// ConsumeOrderEvents tails the order events topic until the context ends.
func ConsumeOrderEvents(ctx context.Context, brokers []string, groupID, topic string) error {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return err
	}
	defer group.Close()

	for {
		if err := group.Consume(ctx, []string{topic}, eventHandler{}); err != nil {
			log.Printf("consumer error: %v", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
