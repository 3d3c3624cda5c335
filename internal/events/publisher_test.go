package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pricelens/pricelens/internal/model"
)

type capturePublisher struct {
	changes []model.PriceChange
	err     error
}

func (c *capturePublisher) Publish(_ context.Context, change model.PriceChange) error {
	c.changes = append(c.changes, change)
	return c.err
}

func sampleChange() model.PriceChange {
	return model.PriceChange{
		ProductID:   7,
		URL:         "https://www.burton.com/us/en/p/board",
		Site:        "burton",
		OldPrice:    50,
		NewPrice:    42,
		Currency:    model.CurrencyUSD,
		Absolute:    -8,
		Percent:     -16,
		Direction:   model.ChangeDirectionDown,
		Significant: true,
		Severity:    model.SeverityMedium,
	}
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	a := &capturePublisher{}
	b := &capturePublisher{}

	f := NewFanout(a, nil, b)
	require.NoError(t, f.Publish(context.Background(), sampleChange()))

	assert.Len(t, a.changes, 1)
	assert.Len(t, b.changes, 1)
}

func TestFanout_CollectsErrorsWithoutStopping(t *testing.T) {
	bad := &capturePublisher{err: errors.New("sink down")}
	good := &capturePublisher{}

	f := NewFanout(bad, good)
	err := f.Publish(context.Background(), sampleChange())

	require.Error(t, err)
	assert.Len(t, good.changes, 1, "later sinks still receive the event")
}

func TestLogPublisher_NeverErrors(t *testing.T) {
	p := NewLogPublisher()
	assert.NoError(t, p.Publish(context.Background(), sampleChange()))

	first := model.PriceChange{ProductID: 1, NewPrice: 10, FirstObservation: true}
	assert.NoError(t, p.Publish(context.Background(), first))
}

func TestKafkaPublisher_SendsKeyedJSON(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "7", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded model.PriceChange
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, int64(7), decoded.ProductID)
		assert.Equal(t, model.SeverityMedium, decoded.Severity)
		return nil
	})

	p := newKafkaPublisher(mp, "price-changes")
	require.NoError(t, p.Publish(context.Background(), sampleChange()))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrBrokerNotAvailable)

	p := newKafkaPublisher(mp, "price-changes")
	err := p.Publish(context.Background(), sampleChange())
	require.Error(t, err)
	require.NoError(t, p.Close())
}
