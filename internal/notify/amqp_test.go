package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	closed   bool
	shut     int
	exchange string
	sent     []amqp.Publishing
	err      error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, _ string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.exchange = exchange
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) IsClosed() bool { return c.closed }

func (c *fakeChannel) Close() error {
	c.shut++
	c.closed = true
	return nil
}

type fakeConn struct{ shut int }

func (c *fakeConn) Close() error {
	c.shut++
	return nil
}

// fakeBroker hands out a fresh channel per dial, or fails while err is set.
type fakeBroker struct {
	err      error
	channels []*fakeChannel
	conns    []*fakeConn
}

func (b *fakeBroker) dial(url, exchange string) (channel, io.Closer, error) {
	if b.err != nil {
		return nil, nil, b.err
	}
	ch, conn := &fakeChannel{}, &fakeConn{}
	b.channels = append(b.channels, ch)
	b.conns = append(b.conns, conn)
	return ch, conn, nil
}

func TestPublishingPriority(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 40, 0, 0, time.UTC)
	tests := []struct {
		name     string
		msg      Notification
		priority uint8
	}{
		{"sos is urgent", Notification{Kind: KindSOS, BusNumber: "TS09", Priority: PriorityHigh, At: at}, 9},
		{"stop progress", Notification{Kind: KindArrived, BusNumber: "TS09", StopOrder: 2, Priority: PriorityDefault, At: at}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := publishing(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.priority, pub.Priority)
			assert.Equal(t, "application/json", pub.ContentType)
			assert.EqualValues(t, amqp.Persistent, pub.DeliveryMode)
			assert.Equal(t, string(tt.msg.Kind), pub.Type)
			assert.Equal(t, at, pub.Timestamp)

			var back Notification
			require.NoError(t, json.Unmarshal(pub.Body, &back))
			assert.Equal(t, tt.msg, back)
		})
	}
}

func TestAMQPNotifierReconnectsClosedChannel(t *testing.T) {
	b := &fakeBroker{}
	n, err := newAMQPNotifier("amqp://test", "bus.notifications", 1, b.dial)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, Notification{Kind: KindArrived, BusNumber: "TS09"}))
	require.Len(t, b.channels, 1)
	assert.Len(t, b.channels[0].sent, 1)
	assert.Equal(t, "bus.notifications", b.channels[0].exchange)

	// broker dropped the channel
	b.channels[0].closed = true
	require.NoError(t, n.Notify(ctx, Notification{Kind: KindDeparted, BusNumber: "TS09"}))
	require.Len(t, b.channels, 2)
	assert.Len(t, b.channels[0].sent, 1)
	assert.Len(t, b.channels[1].sent, 1)
	assert.Equal(t, 1, b.conns[0].shut)

	n.Close()
	assert.Equal(t, 1, b.channels[1].shut)
	assert.Equal(t, 1, b.conns[1].shut)
}

func TestAMQPNotifierReconnectFailure(t *testing.T) {
	b := &fakeBroker{}
	n, err := newAMQPNotifier("amqp://test", "bus.notifications", 1, b.dial)
	require.NoError(t, err)
	ctx := context.Background()

	b.channels[0].closed = true
	b.err = errors.New("connection refused")
	assert.Error(t, n.Notify(ctx, Notification{Kind: KindSOS, BusNumber: "TS09"}))

	b.err = nil
	require.NoError(t, n.Notify(ctx, Notification{Kind: KindSOS, BusNumber: "TS09"}))
	require.Len(t, b.channels, 2)
	assert.Len(t, b.channels[1].sent, 1)
}

func TestAMQPNotifierPublishError(t *testing.T) {
	b := &fakeBroker{}
	n, err := newAMQPNotifier("amqp://test", "x", 1, b.dial)
	require.NoError(t, err)
	b.channels[0].err = errors.New("channel blocked")
	assert.ErrorContains(t, n.Notify(context.Background(), Notification{Kind: KindArrived}), "amqp publish arrived")
}

func TestNewAMQPNotifierGivesUp(t *testing.T) {
	b := &fakeBroker{err: errors.New("connection refused")}
	_, err := newAMQPNotifier("amqp://test", "x", 1, b.dial)
	assert.ErrorContains(t, err, "after 1 attempts")
}
