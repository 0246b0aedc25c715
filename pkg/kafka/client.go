// Package kafka 提供索引任务的 Kafka 投递与消费。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"duoread-go/internal/config"
	"duoread-go/pkg/log"
	"duoread-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskHandler 处理一条索引任务。由 Ingestion 服务实现，消费者与具体流程解耦。
type TaskHandler interface {
	HandleIndexTask(ctx context.Context, task tasks.IndexTask) error
}

// Producer 负责投递索引任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}}
}

// PublishIndexTask 以文档 ID 作为 key 投递任务，同一文档的任务落在同一分区。
func (p *Producer) PublishIndexTask(ctx context.Context, task tasks.IndexTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.DocumentID),
		Value: value,
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// 读取失败后的重试间隔，按倍数增长直到上限，读取成功后复位。
var (
	fetchRetryBackoff    = 500 * time.Millisecond
	fetchRetryMaxBackoff = 30 * time.Second
)

// messageReader 是 kafka.Reader 中消费者用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 启动消费循环，直到 ctx 被取消。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler TaskHandler) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	consume(ctx, r, handler)
}

func consume(ctx context.Context, r messageReader, handler TaskHandler) {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	backoff := fetchRetryBackoff
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Warnf("从 Kafka 读取消息失败，%s 后重试: %v", backoff, err)
			select {
			case <-ctx.Done():
				log.Info("Kafka 消费者已停止")
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > fetchRetryMaxBackoff {
				backoff = fetchRetryMaxBackoff
			}
			continue
		}
		backoff = fetchRetryBackoff

		if err := handleMessage(ctx, m, handler); err != nil {
			log.Errorf("处理索引任务失败: offset=%d, error=%v", m.Offset, err)
		}
		// 失败的文档已被标记为 failed，不再重试，统一提交 offset
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func handleMessage(ctx context.Context, m kafka.Message, handler TaskHandler) error {
	var task tasks.IndexTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		return fmt.Errorf("无法解析 Kafka 消息: %w", err)
	}
	if task.DocumentID == "" {
		return errors.New("索引任务缺少 document_id")
	}
	log.Infof("收到索引任务: documentID=%s, offset=%d", task.DocumentID, m.Offset)
	return handler.HandleIndexTask(ctx, task)
}
