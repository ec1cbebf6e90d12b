// Package consumer implements the upstream queue source port: a
// long-lived Kafka consumer group that hands each raw message to a handler
// callback, processing up to batchSize messages concurrently per claim.
package consumer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

// Config holds Kafka consumer group configuration.
type Config struct {
	Brokers          []string
	GroupID          string
	Topics           []string
	BatchSize        int // max concurrent in-flight handlers per claim
	MinBytes         int
	MaxBytes         int
	MaxWait          time.Duration
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
}

// Handler processes one raw message. A non-nil error leaves the
// message unacknowledged so the upstream queue redelivers it.
type Handler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer is the queue source port's Kafka implementation.
type Consumer struct {
	group     sarama.ConsumerGroup
	handler   Handler
	log       *logger.Logger
	topics    []string
	batchSize int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Consumer bound to a Kafka consumer group.
func New(cfg Config, handler Handler, log *logger.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.MaxProcessingTime = cfg.MaxWait
	sc.Consumer.Fetch.Min = int32(cfg.MinBytes)
	sc.Consumer.Fetch.Max = int32(cfg.MaxBytes)
	sc.Consumer.Group.Session.Timeout = cfg.SessionTimeout
	sc.Consumer.Group.Rebalance.Timeout = cfg.RebalanceTimeout

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("consumer: new consumer group: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:     group,
		handler:   handler,
		log:       log,
		topics:    cfg.Topics,
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the consume loop in the background. Rebalances reinvoke
// Consume transparently; sarama re-enters ConsumeClaim per assigned
// partition after each one.
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
				if err := c.group.Consume(c.ctx, c.topics, c); err != nil {
					c.log.Error("consumer group error", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Stop signals the consume loop to drain the current batch then halt
// (state machine: Running -> Stopping -> Stopped).
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim fans each partition's messages out to at most batchSize
// concurrent handler invocations via an errgroup, mirroring the errgroup
// fan-out used for per-message publishing in the processor. A handler
// error is logged and leaves the message unmarked for redelivery but
// never aborts the claim: one bad message must not stall the rest of
// the batch.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	g := new(errgroup.Group)
	g.SetLimit(c.batchSize)

	for {
		select {
		case <-c.ctx.Done():
			return g.Wait()
		case msg, ok := <-claim.Messages():
			if !ok {
				return g.Wait()
			}

			msg := msg
			g.Go(func() error {
				if err := c.handler.Handle(session.Context(), msg); err != nil {
					c.log.Error("handler failed, leaving message for redelivery",
						zap.String("topic", msg.Topic),
						zap.Int32("partition", msg.Partition),
						zap.Int64("offset", msg.Offset),
						zap.Error(err),
					)
					return nil
				}
				session.MarkMessage(msg, "")
				return nil
			})
		}
	}
}
