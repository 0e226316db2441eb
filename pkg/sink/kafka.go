package sink

import (
	"context"
	"encoding/json"
	"time"

	"go-llmsentry/pkg/logger"
	"go-llmsentry/pkg/models"

	"github.com/IBM/sarama"
)

// KafkaSink 把检测结果发布到 Kafka 主题
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaProducer 创建同步生产者
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	version, err := sarama.ParseKafkaVersion("2.1.0")
	if err != nil {
		return nil, err
	}
	config.Version = version
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 0
	config.Net.DialTimeout = 10 * time.Second
	config.Net.WriteTimeout = 10 * time.Second

	logger.Log.Infof("正在连接 Kafka brokers: %v", brokers)
	return sarama.NewSyncProducer(brokers, config)
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (k *KafkaSink) Handle(_ context.Context, d models.Detection) {
	if !d.Verdict.IsLLM {
		return
	}
	value, err := json.Marshal(d)
	if err != nil {
		logger.Log.Errorf("检测结果序列化失败: %v", err)
		return
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(d.ID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		logger.Log.Errorf("发布检测结果失败: topic=%s, error=%v", k.topic, err)
		return
	}
	logger.Log.Debugf("已发布检测结果: topic=%s, partition=%d, offset=%d", k.topic, partition, offset)
}

func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
