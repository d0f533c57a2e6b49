package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ProducerConfig задаёт параметры подключения producer.
type ProducerConfig struct {
	Brokers  []string
	ClientID string
}

// SplitBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func SplitBrokers(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
}

// Record — одно сообщение для отправки.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer синхронно пишет события в Kafka.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам с идемпотентной доставкой.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	sp, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(sp, nil), nil
}

// saramaConfig требует подтверждения всех in-sync реплик. Идемпотентный producer
// допускает только один запрос в полёте; hash-партиционирование по ключу продажи
// сохраняет порядок SaleCreated → SaleCancelled.
func saramaConfig(clientID string) *sarama.Config {
	c := sarama.NewConfig()
	if clientID != "" {
		c.ClientID = clientID
	}
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Idempotent = true
	c.Net.MaxOpenRequests = 1
	c.Producer.Retry.Max = 5
	c.Producer.Return.Successes = true
	c.Producer.Compression = sarama.CompressionSnappy
	c.Producer.Partitioner = sarama.NewHashPartitioner
	return c
}

func newProducer(sp sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sp, logger: logger}
}

// PublishJSON кодирует v в JSON и отправляет его через Send.
func (p *Producer) PublishJSON(ctx context.Context, topic, key string, v any, headers map[string]string) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode kafka message: %w", err)
	}
	return p.Send(ctx, Record{Topic: topic, Key: key, Value: value, Headers: headers})
}

// Send отправляет запись и ждёт подтверждения. Trace context из ctx уходит в headers.
func (p *Producer) Send(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Key:       sarama.StringEncoder(rec.Key),
		Value:     sarama.ByteEncoder(rec.Value),
		Timestamp: time.Now(),
	}
	carrier := &headerCarrier{msg: msg}
	for name, value := range rec.Headers {
		carrier.Set(name, value)
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	entry := p.logger.WithFields(log.Fields{"topic": rec.Topic, "key": rec.Key})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send to %s: %w", rec.Topic, err)
	}
	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// headerCarrier даёт propagator доступ к headers sarama-сообщения.
type headerCarrier struct {
	msg *sarama.ProducerMessage
}

func (c *headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c.msg.Headers[i].Value)
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		c.msg.Headers[i].Value = []byte(value)
		return
	}
	c.msg.Headers = append(c.msg.Headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = string(h.Key)
	}
	return keys
}

func (c *headerCarrier) index(key string) int {
	for i, h := range c.msg.Headers {
		if string(h.Key) == key {
			return i
		}
	}
	return -1
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
