package main

import (
	"fmt"

	"github.com/IBM/sarama"
)

// partitionStream — то, что replayer читает из одной партиции DLQ.
type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// dlqSource даёт границы партиций и чтение с заданного offset.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

// saramaSource объединяет sarama.Client (offsets) и sarama.Consumer (чтение) поверх одного подключения.
type saramaSource struct {
	client   sarama.Client
	consumer sarama.Consumer
}

func openSaramaSource(brokers []string, clientID string) (*saramaSource, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &saramaSource{client: client, consumer: consumer}, nil
}

func (s *saramaSource) Partitions(topic string) ([]int32, error) {
	return s.client.Partitions(topic)
}

func (s *saramaSource) GetOffset(topic string, partition int32, at int64) (int64, error) {
	return s.client.GetOffset(topic, partition, at)
}

func (s *saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

// Close закрывает consumer раньше client: consumer создан поверх него.
func (s *saramaSource) Close() error {
	consumerErr := s.consumer.Close()
	if err := s.client.Close(); err != nil {
		return err
	}
	return consumerErr
}
