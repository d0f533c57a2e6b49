// Command dlq-reprocess возвращает события продаж из DLQ в Kafka после устранения причины сбоя.
// По умолчанию работает как dry-run; публикация включается флагом -execute.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

const clientID = "pos-dlq-reprocess"

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(flag.CommandLine, os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $POS_KAFKA_BROKERS)")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to read")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicSaleEvents, "topic for messages without x-original-topic header")
	fs.IntVar(&opts.limit, "limit", 100, "max messages to scan across all partitions")
	fs.BoolVar(&opts.execute, "execute", false, "publish messages instead of a dry run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", 2*time.Second, "stop reading a partition after this pause")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers, _ = lookup("POS_KAFKA_BROKERS")
	}
	opts.brokers = kafka.SplitBrokers(brokers)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)

	switch {
	case len(opts.brokers) == 0:
		return options{}, errors.New("kafka brokers are required (-brokers or POS_KAFKA_BROKERS)")
	case opts.sourceTopic == "" || opts.targetTopic == "":
		return options{}, errors.New("source-topic and target-topic must not be empty")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be positive, got %d", opts.limit)
	case opts.idleTimeout <= 0:
		return options{}, fmt.Errorf("idle-timeout must be positive, got %s", opts.idleTimeout)
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	src, err := openSaramaSource(opts.brokers, clientID)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	var publishers publisherFactory
	if opts.execute {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: opts.brokers, ClientID: clientID})
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()
		publishers = func(topic string) domain.OutboxPublisher {
			return kafka.NewOutboxPublisher(producer, topic)
		}
	}

	r, err := newReplayer(opts, src, publishers)
	if err != nil {
		return err
	}
	r.logger.WithFields(log.Fields{
		"target_topic": opts.targetTopic,
		"limit":        opts.limit,
		"execute":      opts.execute,
		"from_newest":  opts.fromNewest,
	}).Info("starting dlq replay")

	_, err = r.Run(ctx)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
