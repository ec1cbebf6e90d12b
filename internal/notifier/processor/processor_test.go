package processor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/internal/notifier/cache"
	"github.com/notifyhub/service-notification-processor/internal/notifier/processor"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

type fakeDatastore struct {
	mu     sync.Mutex
	logins []loginCall
	byUser map[string][]string
}

type loginCall struct{ userID, clientID string }

func newFakeDatastore() *fakeDatastore {
	return &fakeDatastore{byUser: map[string][]string{}}
}

func (d *fakeDatastore) StoreLogin(ctx context.Context, userID, clientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins = append(d.logins, loginCall{userID, clientID})
	return nil
}

func (d *fakeDatastore) FetchClientIDs(ctx context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byUser[userID], nil
}

type publishedMessage struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failTopic string
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == p.failTopic {
		return "", errors.New("publish failed")
	}
	p.published = append(p.published, publishedMessage{topic, body})
	return topic + "-id", nil
}

func (p *fakePublisher) Close() error { return nil }

func newCaps(t *testing.T, snapshot cache.CapabilityMap) *cache.SelfUpdatingCache[cache.CapabilityMap] {
	c := cache.New("capability", func(ctx context.Context) (cache.CapabilityMap, error) {
		return snapshot, nil
	}, time.Hour, nil, 0, logger.NewTestLogger(), nil)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func newWebhooks(t *testing.T) *cache.SelfUpdatingCache[cache.WebhookMap] {
	c := cache.New("webhook", func(ctx context.Context) (cache.WebhookMap, error) {
		return cache.WebhookMap{}, nil
	}, time.Hour, nil, 0, logger.NewTestLogger(), nil)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func newProcessor(t *testing.T, ds *fakeDatastore, pub *fakePublisher, caps cache.CapabilityMap) *processor.Processor {
	t.Helper()
	return processor.New(processor.Config{
		TopicPrefix:      "rp.events.",
		PublishTimeout:   time.Second,
		DatastoreTimeout: time.Second,
	}, newCaps(t, caps), newWebhooks(t), ds, pub, logger.NewTestLogger(), nil)
}

func handle(t *testing.T, p *processor.Processor, body string) error {
	t.Helper()
	return p.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(body)})
}

// S1 — login with clientId
func TestS1_LoginWithClientID(t *testing.T) {
	ds := newFakeDatastore()
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, nil)

	require.NoError(t, handle(t, p, `{"event":"login","uid":"U1","clientId":"C1","ts":1700000000}`))

	assert.Equal(t, []loginCall{{"U1", "C1"}}, ds.logins)
	assert.Empty(t, pub.published)
}

// S2 — login without clientId
func TestS2_LoginWithoutClientID(t *testing.T) {
	ds := newFakeDatastore()
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, nil)

	require.NoError(t, handle(t, p, `{"event":"login","uid":"U1","ts":1700000000}`))

	assert.Empty(t, ds.logins)
	assert.Empty(t, pub.published)
}

// S3 — delete fan-out
func TestS3_DeleteFanOut(t *testing.T) {
	ds := newFakeDatastore()
	ds.byUser["U1"] = []string{"C1", "C2"}
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, nil)

	require.NoError(t, handle(t, p, `{"event":"delete","uid":"U1","ts":1700000000}`))

	topics := map[string]bool{}
	for _, m := range pub.published {
		topics[m.topic] = true
	}
	assert.True(t, topics["rp.events.C1"])
	assert.True(t, topics["rp.events.C2"])
	assert.Len(t, pub.published, 2)
}

// S4 — subscription partial match
func TestS4_SubscriptionPartialMatch(t *testing.T) {
	ds := newFakeDatastore()
	ds.byUser["U1"] = []string{"C1", "C2", "C3"}
	caps := cache.CapabilityMap{
		"C1": {"capA", "capB"},
		"C2": {"capB"},
		"C3": {"capC"},
	}
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, caps)

	require.NoError(t, handle(t, p, `{
		"event":"subscription:update","uid":"U1","eventCreatedAt":1700000000,
		"isActive":true,"productCapabilities":["capB","capD"]
	}`))

	byTopic := map[string]publishedMessage{}
	for _, m := range pub.published {
		byTopic[m.topic] = m
	}
	assert.Contains(t, byTopic, "rp.events.C1")
	assert.Contains(t, byTopic, "rp.events.C2")
	assert.NotContains(t, byTopic, "rp.events.C3")
	assert.Contains(t, string(byTopic["rp.events.C1"].body), `"capB"`)
}

// S5 — subscription, user not logged into matching client
func TestS5_SubscriptionNoMatchingLogin(t *testing.T) {
	ds := newFakeDatastore()
	ds.byUser["U1"] = []string{"C2"}
	caps := cache.CapabilityMap{
		"C1": {"capB"},
		"C2": {"capX"},
	}
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, caps)

	require.NoError(t, handle(t, p, `{
		"event":"subscription:update","uid":"U1","eventCreatedAt":1700000000,
		"isActive":true,"productCapabilities":["capB","capD"]
	}`))

	assert.Empty(t, pub.published)
}

// S6 — unknown event
func TestS6_UnknownEventIsDropped(t *testing.T) {
	ds := newFakeDatastore()
	pub := &fakePublisher{}
	p := newProcessor(t, ds, pub, nil)

	require.NoError(t, handle(t, p, `{"event":"helloWorld","uid":"U1"}`))

	assert.Empty(t, ds.logins)
	assert.Empty(t, pub.published)
}

// Invariant 7 — a publish failure fails the whole handler.
func TestFanOutFailurePropagates(t *testing.T) {
	ds := newFakeDatastore()
	ds.byUser["U1"] = []string{"C1", "C2"}
	pub := &fakePublisher{failTopic: "rp.events.C1"}
	p := newProcessor(t, ds, pub, nil)

	err := handle(t, p, `{"event":"delete","uid":"U1","ts":1700000000}`)
	require.Error(t, err)
}
