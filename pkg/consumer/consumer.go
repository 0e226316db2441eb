package consumer

import (
	"context"
	"errors"
	"time"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"

	"github.com/IBM/sarama"
)

// Submitter 事件的下游（analyzer.Pipeline）
type Submitter interface {
	Submit(ev models.Event) bool
}

// Consumer 从 Kafka 主题消费拦截事件
type Consumer struct {
	consumer sarama.ConsumerGroup
	sink     Submitter
	ready    chan bool
}

func NewConsumer(brokers []string, groupID string, sink Submitter) (*Consumer, error) {
	config := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, err
	}
	config.Version = version
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	// 只关心新流量
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	config.Net.DialTimeout = 30 * time.Second
	config.Net.ReadTimeout = 30 * time.Second
	config.Net.WriteTimeout = 30 * time.Second

	logger.Log.Infof("正在连接 Kafka brokers: %v", brokers)
	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return newConsumer(group, sink), nil
}

func newConsumer(group sarama.ConsumerGroup, sink Submitter) *Consumer {
	return &Consumer{
		consumer: group,
		sink:     sink,
		ready:    make(chan bool),
	}
}

// Start 阻塞消费直到 ctx 取消
func (c *Consumer) Start(ctx context.Context, topic string) error {
	topics := []string{topic}

	logger.Log.Infof("开始消费 topic: %s", topic)
	for {
		if err := c.consumer.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Log.Errorf("消费出错: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if ctx.Err() != nil {
			logger.Log.Infof("停止消费: %v", ctx.Err())
			return ctx.Err()
		}

		// 重置 ready 通道
		c.ready = make(chan bool)
	}
}

// Setup sarama.ConsumerGroupHandler
func (c *Consumer) Setup(_ sarama.ConsumerGroupSession) error {
	close(c.ready)
	return nil
}

func (c *Consumer) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			logger.Log.Debugf("收到消息: topic=%s, partition=%d, offset=%d",
				message.Topic, message.Partition, message.Offset)
			c.handleMessage(message.Value)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handleMessage(value []byte) {
	ev, err := models.DecodeEvent(value)
	if err != nil {
		logger.Log.Errorf("解析消息失败: %v, raw message: %s", err, string(value))
		return
	}
	if !c.sink.Submit(ev) {
		logger.Log.Debugf("事件未被接收: kind=%s, request_id=%s", ev.Kind(), ev.ID())
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
