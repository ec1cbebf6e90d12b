package consumer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string                           { return "upstream" }
func (f *fakeClaim) Partition() int32                         { return 0 }
func (f *fakeClaim) InitialOffset() int64                     { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.messages }

type fakeSession struct {
	ctx    context.Context
	marked int32
}

func (s *fakeSession) Claims() map[string][]int32                                         { return nil }
func (s *fakeSession) MemberID() string                                                   { return "test-member" }
func (s *fakeSession) GenerationID() int32                                                 { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, meta string) {}
func (s *fakeSession) Commit()                                                             {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, meta string) {
}
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, meta string) {
	atomic.AddInt32(&s.marked, 1)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type countingHandler struct {
	mu      sync.Mutex
	handled int
	fail    map[int64]bool
}

func (h *countingHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled++
	if h.fail[msg.Offset] {
		return errors.New("boom")
	}
	return nil
}

// newForTest builds a Consumer without dialing any broker, so ConsumeClaim
// can be exercised directly against fakes.
func newForTest(handler Handler, batchSize int) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		handler:   handler,
		log:       logger.NewTestLogger(),
		topics:    []string{"upstream"},
		batchSize: batchSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func TestConsumeClaim_HandlesAndMarksMessages(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 4)}
	for i := int64(0); i < 4; i++ {
		claim.messages <- &sarama.ConsumerMessage{Topic: "upstream", Offset: i}
	}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}
	handler := &countingHandler{fail: map[int64]bool{2: true}}

	c := newForTest(handler, 2)

	require.NoError(t, c.Setup(session))
	require.NoError(t, c.ConsumeClaim(session, claim))
	require.NoError(t, c.Cleanup(session))

	assert.Equal(t, 4, handler.handled)
	assert.EqualValues(t, 3, session.marked) // offset 2 failed and is left unmarked
}

func TestConsumeClaim_StopsOnContextCancel(t *testing.T) {
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}
	session := &fakeSession{ctx: context.Background()}
	handler := &countingHandler{}

	c := newForTest(handler, 2)
	c.cancel()

	require.NoError(t, c.ConsumeClaim(session, claim))
	assert.Equal(t, 0, handler.handled)
}
