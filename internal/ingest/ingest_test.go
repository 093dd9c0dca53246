package ingest

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bus-tracker/internal/fleet"
	"bus-tracker/internal/publisher"
)

type memStore struct {
	mu         sync.Mutex
	latest     map[string]time.Time
	passengers map[string]int
	attendance []fleet.Attendance
	failUpsert error
}

func newMemStore() *memStore {
	return &memStore{latest: map[string]time.Time{}, passengers: map[string]int{}}
}

func (m *memStore) UpsertLocation(_ context.Context, loc fleet.BusLocation) (bool, error) {
	if m.failUpsert != nil {
		return false, m.failUpsert
	}
	if last, ok := m.latest[loc.BusNumber]; ok && loc.LastUpdated.Before(last) {
		return false, nil
	}
	m.latest[loc.BusNumber] = loc.LastUpdated
	return true, nil
}

func (m *memStore) IncrementPassengers(_ context.Context, bus string, delta int, at time.Time) (fleet.PassengerCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passengers[bus] += delta
	return fleet.PassengerCount{BusNumber: bus, Count: m.passengers[bus], LastUpdated: at}, nil
}

func (m *memStore) RecordAttendance(_ context.Context, a fleet.Attendance) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.attendance {
		if b.StudentID == a.StudentID && b.BusNumber == a.BusNumber && b.Day == a.Day {
			return false, nil
		}
	}
	m.attendance = append(m.attendance, a)
	return true, nil
}

type published struct {
	kind publisher.Kind
	bus  string
}

type fakePub struct {
	mu  sync.Mutex
	got []published
}

func (f *fakePub) Publish(kind publisher.Kind, bus string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, published{kind, bus})
	return nil
}

type fakeMetrics struct{ applied, stale int }

func (f *fakeMetrics) LocationIngested(_ string, applied bool) {
	if applied {
		f.applied++
	} else {
		f.stale++
	}
}

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func TestLocationLatestWins(t *testing.T) {
	store, pub, m := newMemStore(), &fakePub{}, &fakeMetrics{}
	s := NewService(store, pub, m, time.UTC)
	ctx := context.Background()

	ok, err := s.Location(ctx, "driver", fleet.BusLocation{BusNumber: " TS09 ", Latitude: 17.38, Longitude: 78.48, LastUpdated: t0})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Location(ctx, "driver", fleet.BusLocation{BusNumber: "TS09", Latitude: 17.39, Longitude: 78.49, LastUpdated: t0.Add(-time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []published{{publisher.KindLocation, "TS09"}}, pub.got)
	assert.Equal(t, 1, m.applied)
	assert.Equal(t, 1, m.stale)
}

func TestLocationRejectsInvalid(t *testing.T) {
	s := NewService(newMemStore(), nil, nil, time.UTC)
	for name, loc := range map[string]fleet.BusLocation{
		"no bus":    {Latitude: 1, Longitude: 1},
		"lat range": {BusNumber: "TS09", Latitude: 91, Longitude: 1},
		"nan":       {BusNumber: "TS09", Latitude: math.NaN(), Longitude: 1},
		"lon range": {BusNumber: "TS09", Latitude: 1, Longitude: -181},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Location(context.Background(), "driver", loc)
			assert.ErrorIs(t, err, ErrInvalidLocation)
		})
	}
}

func TestLocationStampsMissingTime(t *testing.T) {
	store := newMemStore()
	s := NewService(store, nil, nil, time.UTC)
	s.now = func() time.Time { return t0 }
	_, err := s.Location(context.Background(), "simulator", fleet.BusLocation{BusNumber: "TS09", Latitude: 1, Longitude: 1})
	require.NoError(t, err)
	assert.Equal(t, t0, store.latest["TS09"])
}

func TestLocationStoreError(t *testing.T) {
	store := newMemStore()
	store.failUpsert = errors.New("db down")
	pub := &fakePub{}
	s := NewService(store, pub, nil, time.UTC)
	_, err := s.Location(context.Background(), "driver", fleet.BusLocation{BusNumber: "TS09", Latitude: 1, Longitude: 1, LastUpdated: t0})
	assert.Error(t, err)
	assert.Empty(t, pub.got)
}

func TestBoardCountsOncePerDay(t *testing.T) {
	store, pub := newMemStore(), &fakePub{}
	s := NewService(store, pub, nil, time.UTC)
	s.now = func() time.Time { return t0 }
	ctx := context.Background()

	pc, counted, err := s.Board(ctx, "TS09", "asha")
	require.NoError(t, err)
	assert.True(t, counted)
	assert.Equal(t, 1, pc.Count)

	pc, counted, err = s.Board(ctx, "TS09", "asha")
	require.NoError(t, err)
	assert.False(t, counted)
	assert.Equal(t, 1, pc.Count)

	_, _, err = s.Board(ctx, "TS09", "vikram")
	require.NoError(t, err)

	s.now = func() time.Time { return t0.Add(24 * time.Hour) }
	pc, counted, err = s.Board(ctx, "TS09", "asha")
	require.NoError(t, err)
	assert.True(t, counted)
	assert.Equal(t, 3, pc.Count)

	assert.Len(t, store.attendance, 3)
	assert.Len(t, pub.got, 3)
}

func TestBoardConcurrentSameStudent(t *testing.T) {
	store, pub := newMemStore(), &fakePub{}
	s := NewService(store, pub, nil, time.UTC)
	s.now = func() time.Time { return t0 }

	var wg sync.WaitGroup
	counted := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.Board(context.Background(), "TS09", "asha")
			assert.NoError(t, err)
			counted <- ok
		}()
	}
	wg.Wait()
	close(counted)

	n := 0
	for ok := range counted {
		if ok {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.passengers["TS09"])
	assert.Len(t, store.attendance, 1)
	assert.Len(t, pub.got, 1)
}

func TestBoardUsesLocalDay(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	store := newMemStore()
	s := NewService(store, nil, nil, ist)
	// 20:00 UTC on the 2nd is already the 3rd in IST
	s.now = func() time.Time { return time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) }

	_, counted, err := s.Board(context.Background(), "TS09", "asha")
	require.NoError(t, err)
	assert.True(t, counted)
	require.Len(t, store.attendance, 1)
	assert.Equal(t, "2026-03-03", store.attendance[0].Day)
}
