package publisher_test

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/service-notification-processor/internal/notifier/publisher"
	"github.com/notifyhub/service-notification-processor/pkg/logger"
)

func TestPublish_Success(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "rp.events.C1", msg.Topic)
		return nil
	})

	p := publisher.NewWithProducer(mockProducer, logger.NewTestLogger(), nil)

	id, err := p.Publish(context.Background(), "rp.events.C1", []byte(`{"event":"delete"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPublish_Failure(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	p := publisher.NewWithProducer(mockProducer, logger.NewTestLogger(), nil)

	_, err := p.Publish(context.Background(), "rp.events.C1", []byte(`{}`))
	require.Error(t, err)
}
