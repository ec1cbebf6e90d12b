// Package processor implements the Notification Processor: the
// orchestrator that pulls decoded messages, dispatches per event kind,
// persists logins, and fans out to per-client topics.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/internal/notifier/notifyerr"
	"github.com/notifyhub/service-notification-processor/internal/notifier/publisher"
	"github.com/notifyhub/service-notification-processor/internal/notifier/schema"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
	"github.com/notifyhub/service-notification-processor/pkg/metrics"
)

// State is one of the processor's four lifecycle states.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

// Datastore is the login-record persistence port the processor depends on
// Satisfied by datastore.LoginRepository.
type Datastore interface {
	StoreLogin(ctx context.Context, userID, clientID string) error
	FetchClientIDs(ctx context.Context, userID string) ([]string, error)
}

// QueueConsumer is the upstream queue source port.
// Satisfied by consumer.Consumer.
type QueueConsumer interface {
	Start() error
	Stop() error
}

// Clock is injected for deterministic timestamps in tests.
type Clock func() time.Time

// Config bundles the processor's tunables.
type Config struct {
	TopicPrefix      string
	PublishTimeout   time.Duration
	DatastoreTimeout time.Duration
}

// Processor is the central orchestrator.
type Processor struct {
	cfg Config

	consumer     QueueConsumer
	capCache     *cache.SelfUpdatingCache[cache.CapabilityMap]
	webhookCache *cache.SelfUpdatingCache[cache.WebhookMap]
	datastore    Datastore
	publisher    publisher.Publisher

	log     *logger.Logger
	metrics *metrics.Metrics
	clock   Clock

	state atomic.Int32
}

// New constructs a Processor. The consumer's handler callback must be
// wired to call p.Handle; see cmd/notifier/main.go for the wiring order
// (consumer constructed after the processor, since it needs p as its
// Handler).
func New(cfg Config, capCache *cache.SelfUpdatingCache[cache.CapabilityMap], webhookCache *cache.SelfUpdatingCache[cache.WebhookMap], ds Datastore, pub publisher.Publisher, log *logger.Logger, m *metrics.Metrics) *Processor {
	p := &Processor{
		cfg:          cfg,
		capCache:     capCache,
		webhookCache: webhookCache,
		datastore:    ds,
		publisher:    pub,
		log:          log,
		metrics:      m,
		clock:        time.Now,
	}
	p.state.Store(int32(StateIdle))
	return p
}

// SetConsumer wires the queue consumer after construction, breaking the
// circular dependency (the consumer needs p as its message Handler).
func (p *Processor) SetConsumer(c QueueConsumer) {
	p.consumer = c
}

// State returns the processor's current lifecycle state.
func (p *Processor) State() State {
	return State(p.state.Load())
}

// Start transitions Idle -> Running: starts both caches (a fatal error on
// either terminates the process) and then the consumer.
func (p *Processor) Start(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("processor: start is only valid from Idle, current state %d", p.State())
	}

	if err := p.capCache.Start(ctx); err != nil {
		return notifyerr.NewFatal("capability cache start", err)
	}
	if err := p.webhookCache.Start(ctx); err != nil {
		return notifyerr.NewFatal("webhook cache start", err)
	}
	if p.consumer == nil {
		return fmt.Errorf("processor: consumer not wired, call SetConsumer before Start")
	}
	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("processor: start consumer: %w", err)
	}

	return nil
}

// Stop transitions Running -> Stopping -> Stopped: signals the consumer to
// drain in-flight work then halts both caches.
func (p *Processor) Stop() error {
	if !p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("processor: stop is only valid from Running, current state %d", p.State())
	}
	defer p.state.Store(int32(StateStopped))

	var err error
	if p.consumer != nil {
		err = p.consumer.Stop()
	}
	p.capCache.Stop()
	p.webhookCache.Stop()
	return err
}

// Handle implements consumer.Handler: decode, dispatch, record metrics.
func (p *Processor) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := p.clock()
	if !msg.Timestamp.IsZero() {
		p.observeQueueDelay(msg.Timestamp)
	}

	n, err := schema.Decode(msg.Value)
	if err != nil {
		// Decode itself never returns a non-nil error in this implementation;
		// kept for interface symmetry with codecs that can fail to parse at
		// the transport layer (e.g. invalid UTF-8).
		return notifyerr.NewTransient("decode", err)
	}

	if n.Unwanted {
		p.log.Debug("dropping unrecognized or invalid notification")
		return nil
	}

	switch n.Kind {
	case schema.KindLogin:
		err = p.handleLogin(ctx, n)
	case schema.KindSubscriptionUpdate:
		err = p.handleSubscription(ctx, n)
	case schema.KindDelete, schema.KindPrimaryEmailChanged, schema.KindProfileDataChange,
		schema.KindPasswordChange, schema.KindReset:
		err = p.handleGeneric(ctx, n)
	default:
		// Codec and dispatch disagree on recognized kinds: a desync bug.
		// Crash this handler (redelivery + alerting) but not the process.
		return notifyerr.NewInvariantViolation(string(n.Kind))
	}

	if p.metrics != nil {
		p.metrics.ProcessingDuration.Observe(p.clock().Sub(start).Seconds())
		p.metrics.MessageType.WithLabelValues(n.EventType()).Inc()
	}
	return err
}

func (p *Processor) observeQueueDelay(messageTime time.Time) {
	if p.metrics == nil {
		return
	}
	d := p.clock().Sub(messageTime)
	if d < 0 {
		d = 0
	}
	p.metrics.QueueDelay.Observe(d.Seconds())
}

// handleLogin implements the login branch of dispatch: a missing
// clientId drops the message with no datastore write and no publish.
func (p *Processor) handleLogin(ctx context.Context, n *schema.Notification) error {
	if n.Login.ClientID == "" {
		p.log.Debug("login without clientId, dropping", zap.String("uid", n.Login.UID))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DatastoreTimeout)
	defer cancel()

	if err := p.datastore.StoreLogin(ctx, n.Login.UID, n.Login.ClientID); err != nil {
		if p.metrics != nil {
			p.metrics.DatastoreErrors.WithLabelValues("store_login").Inc()
		}
		return notifyerr.NewTransient("store_login", err)
	}
	return nil
}

// handleSubscription implements the subscription fan-out algorithm.
func (p *Processor) handleSubscription(ctx context.Context, n *schema.Notification) error {
	sub := n.Subscription

	dsCtx, cancel := context.WithTimeout(ctx, p.cfg.DatastoreTimeout)
	userClients, err := p.datastore.FetchClientIDs(dsCtx, sub.UID)
	cancel()
	if err != nil {
		if p.metrics != nil {
			p.metrics.DatastoreErrors.WithLabelValues("fetch_client_ids").Inc()
		}
		return notifyerr.NewTransient("fetch_client_ids", err)
	}
	userClientSet := toSet(userClients)

	capabilities := p.capCache.ServiceData()
	notifyMap := buildSubscriptionNotifyMap(sub.ProductCapabilities, capabilities, userClientSet)

	if p.metrics != nil {
		d := p.clock().Sub(time.UnixMilli(sub.ChangeTimeMS()))
		if d < 0 {
			d = 0
		}
		p.metrics.SubscriptionEventDelay.Observe(d.Seconds())
	}

	return p.fanOut(ctx, len(notifyMap), func(i int, cid string, caps []string) (string, []byte, error) {
		body, err := n.SubscriptionOutboundBody(caps, p.clock().UnixMilli())
		if err != nil {
			return "", nil, err
		}
		payload, err := marshalJSON(body)
		return p.cfg.TopicPrefix + cid, payload, err
	}, notifyMap)
}

// buildSubscriptionNotifyMap implements steps 1-2 of the fan-out: for each
// capability in productCapabilities (in order), append it to every client
// in the capability snapshot that has it, then keep only clients the user
// has actually logged into.
func buildSubscriptionNotifyMap(productCapabilities []string, snapshot cache.CapabilityMap, userClients map[string]struct{}) map[string][]string {
	notifyMap := make(map[string][]string)
	for _, capName := range productCapabilities {
		for cid, caps := range snapshot {
			if contains(caps, capName) {
				notifyMap[cid] = append(notifyMap[cid], capName)
			}
		}
	}
	for cid := range notifyMap {
		if _, ok := userClients[cid]; !ok {
			delete(notifyMap, cid)
		}
	}
	return notifyMap
}

// handleGeneric implements the delete/profile/password fan-out.
func (p *Processor) handleGeneric(ctx context.Context, n *schema.Notification) error {
	dsCtx, cancel := context.WithTimeout(ctx, p.cfg.DatastoreTimeout)
	clientIDs, err := p.datastore.FetchClientIDs(dsCtx, n.Generic.UID)
	cancel()
	if err != nil {
		if p.metrics != nil {
			p.metrics.DatastoreErrors.WithLabelValues("fetch_client_ids").Inc()
		}
		return notifyerr.NewTransient("fetch_client_ids", err)
	}

	notifyMap := make(map[string][]string, len(clientIDs))
	for _, cid := range clientIDs {
		notifyMap[cid] = nil
	}

	return p.fanOut(ctx, len(notifyMap), func(i int, cid string, _ []string) (string, []byte, error) {
		body, err := n.OutboundBody(p.clock().UnixMilli())
		if err != nil {
			return "", nil, err
		}
		payload, err := marshalJSON(body)
		return p.cfg.TopicPrefix + cid, payload, err
	}, notifyMap)
}

// fanOut spawns one publish per entry in notifyMap concurrently via an
// errgroup and joins them all-or-fail: every publish runs to completion
// (the group's context is never cancelled early), and any publish
// failure fails the whole handler, leaving the incoming message
// unacknowledged for redelivery.
func (p *Processor) fanOut(ctx context.Context, n int, render func(i int, cid string, caps []string) (topic string, payload []byte, err error), notifyMap map[string][]string) error {
	if n == 0 {
		return nil
	}

	var g errgroup.Group
	var failed atomic.Int32

	i := 0
	for cid, caps := range notifyMap {
		i, cid, caps := i, cid, caps
		g.Go(func() error {
			topic, payload, err := render(i, cid, caps)
			if err != nil {
				failed.Add(1)
				return err
			}

			pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
			defer cancel()

			if _, err := p.publisher.Publish(pubCtx, topic, payload); err != nil {
				failed.Add(1)
				return notifyerr.NewTransient("publish", err)
			}
			return nil
		})
		i++
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("fan-out: %d of %d publishes failed: %w", failed.Load(), n, err)
	}
	return nil
}

func marshalJSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func contains(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}
