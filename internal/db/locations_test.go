package db

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/fleet"
)

type flakySource struct {
	failures int
	err      error
	calls    int
}

func (f *flakySource) LatestLocation(_ context.Context, bus string) (fleet.BusLocation, error) {
	f.calls++
	if f.calls <= f.failures {
		return fleet.BusLocation{}, f.err
	}
	return fleet.BusLocation{BusNumber: bus, Latitude: 17.385, Longitude: 78.486}, nil
}

func TestFetchLatestLocationWithRetry(t *testing.T) {
	ctx := context.Background()

	src := &flakySource{failures: 2, err: errors.New("conn reset")}
	loc, err := FetchLatestLocationWithRetry(ctx, src, "TS09", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "TS09", loc.BusNumber)
	assert.Equal(t, 3, src.calls)

	src = &flakySource{failures: 5, err: errors.New("conn reset")}
	_, err = FetchLatestLocationWithRetry(ctx, src, "TS09", time.Millisecond)
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.Equal(t, MaxFetchAttempts, src.calls)

	src = &flakySource{failures: 5, err: fmt.Errorf("x: %w", ErrNotFound)}
	_, err = FetchLatestLocationWithRetry(ctx, src, "TS09", time.Millisecond)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, src.calls)
}

func TestFetchLatestLocationWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &flakySource{failures: 5, err: errors.New("down")}
	_, err := FetchLatestLocationWithRetry(ctx, src, "TS09", time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, src.calls)
}

func TestNullHelpers(t *testing.T) {
	v := 4.5
	assert.Equal(t, &v, floatPtr(nullFloat(&v)))
	assert.Nil(t, floatPtr(nullFloat(nil)))
	assert.False(t, nullString("").Valid)
	assert.True(t, nullString("07:40").Valid)
}
