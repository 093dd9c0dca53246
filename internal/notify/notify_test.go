package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/proximity"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

type countMetrics struct {
	sent, suppressed map[string]int
}

func newCountMetrics() *countMetrics {
	return &countMetrics{sent: map[string]int{}, suppressed: map[string]int{}}
}

func (m *countMetrics) NotificationSentInc(k string)       { m.sent[k]++ }
func (m *countMetrics) NotificationSuppressedInc(k string) { m.suppressed[k]++ }

func TestForTransition(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	n, ok := ForTransition(proximity.Transition{BusNumber: "TS09", StopOrder: 2, StopName: "Uppal", From: fleet.StatusPending, To: fleet.StatusApproaching, At: at})
	require.True(t, ok)
	assert.Equal(t, KindApproaching, n.Kind)
	assert.Equal(t, "Approaching Stop", n.Title)
	assert.Contains(t, n.Body, "Uppal")
	assert.Equal(t, 2, n.StopOrder)

	n, ok = ForTransition(proximity.Transition{BusNumber: "TS09", StopName: "Uppal", To: fleet.StatusDeparted})
	require.True(t, ok)
	assert.Equal(t, KindDeparted, n.Kind)

	_, ok = ForTransition(proximity.Transition{To: fleet.StatusPending})
	assert.False(t, ok)
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	inner := &captureNotifier{}
	m := newCountMetrics()
	c := NewCooldown(inner, time.Minute, m)
	ctx := context.Background()

	n := Notification{Kind: KindApproaching, BusNumber: "TS09", StopOrder: 2}
	require.NoError(t, c.Notify(ctx, n))
	require.NoError(t, c.Notify(ctx, n))
	// another stop is not a repeat
	require.NoError(t, c.Notify(ctx, Notification{Kind: KindApproaching, BusNumber: "TS09", StopOrder: 3}))
	// another kind is not a repeat
	require.NoError(t, c.Notify(ctx, Notification{Kind: KindArrived, BusNumber: "TS09", StopOrder: 2}))

	assert.Len(t, inner.sent, 3)
	assert.Equal(t, 1, m.suppressed["approaching"])
	assert.Equal(t, 2, m.sent["approaching"])
}

func TestCooldownExpires(t *testing.T) {
	inner := &captureNotifier{}
	c := NewCooldown(inner, 20*time.Millisecond, nil)
	n := Notification{Kind: KindArrived, BusNumber: "TS09", StopOrder: 1}
	require.NoError(t, c.Notify(context.Background(), n))
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, c.Notify(context.Background(), n))
	assert.Len(t, inner.sent, 2)
}

func TestCooldownNeverHoldsSOS(t *testing.T) {
	inner := &captureNotifier{}
	c := NewCooldown(inner, time.Hour, nil)
	sos := ForSOS(fleet.SOSAlert{BusNumber: "TS09"})
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Notify(context.Background(), sos))
	}
	assert.Len(t, inner.sent, 3)
	assert.Equal(t, PriorityHigh, inner.sent[0].Priority)
}

func TestCooldownForgetsFailedSend(t *testing.T) {
	inner := &captureNotifier{err: errors.New("broker down")}
	c := NewCooldown(inner, time.Hour, nil)
	n := Notification{Kind: KindArrived, BusNumber: "TS09", StopOrder: 1}
	assert.Error(t, c.Notify(context.Background(), n))

	inner.err = nil
	require.NoError(t, c.Notify(context.Background(), n))
	assert.Len(t, inner.sent, 1)
}
