// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lexicon-go/internal/config"
	"lexicon-go/internal/model"
	"lexicon-go/pkg/log"
	"lexicon-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// messageWriter 是 *kafka.Writer 中用到的部分，测试时可替换。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 在每个批次提交后发布一条 LabelBatchEvent。
// 它实现了 pipeline.BatchObserver。
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(cfg.Brokers)...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{writer: w, topic: cfg.Topic}
}

// NewBatchEvent 由已提交的批次构造事件。
func NewBatchEvent(batch model.CommittedBatch) tasks.LabelBatchEvent {
	return tasks.LabelBatchEvent{
		RunID:        batch.RunID,
		BatchSeq:     batch.Seq,
		EquipmentIDs: batch.IDs(),
		Store:        batch.Store,
		CommittedAt:  batch.CommittedAt,
	}
}

// BatchCommitted 发布批次事件。消息 key 为运行 ID，同一次运行的事件落在同一分区、保持顺序。
func (p *Producer) BatchCommitted(ctx context.Context, batch model.CommittedBatch) error {
	evt := NewBatchEvent(batch)
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(evt.RunID), Value: value}); err != nil {
		return fmt.Errorf("publish batch %d to %s: %w", evt.BatchSeq, p.topic, err)
	}
	log.Debugf("[Kafka] 已发布批次事件 run=%s seq=%d ids=%d", evt.RunID, evt.BatchSeq, len(evt.EquipmentIDs))
	return nil
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// BatchEventHandler 处理消费到的批次事件。
type BatchEventHandler interface {
	HandleBatchEvent(ctx context.Context, evt tasks.LabelBatchEvent) error
}

// BatchEventHandlerFunc 让普通函数实现 BatchEventHandler。
type BatchEventHandlerFunc func(ctx context.Context, evt tasks.LabelBatchEvent) error

func (f BatchEventHandlerFunc) HandleBatchEvent(ctx context.Context, evt tasks.LabelBatchEvent) error {
	return f(ctx, evt)
}

// messageReader 是 *kafka.Reader 中用到的部分。
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StartConsumer 消费批次事件直到 ctx 取消。ctx 取消时返回 nil。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, handler BatchEventHandler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  splitBrokers(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)
	return consume(ctx, r, handler)
}

func consume(ctx context.Context, r messageReader, handler BatchEventHandler) error {
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}

		var evt tasks.LabelBatchEvent
		if err := json.Unmarshal(m.Value, &evt); err != nil {
			// 消息格式错误，直接提交，避免阻塞队列
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		} else if err := handler.HandleBatchEvent(ctx, evt); err != nil {
			// 快照重载是整体替换，下一条事件或手动 reload 会覆盖这次失败
			log.Errorf("处理批次事件失败: run=%s seq=%d, err: %v", evt.RunID, evt.BatchSeq, err)
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
