package publisher

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "bus.TS09_AB_1234.location", Subject(KindLocation, "TS09 AB 1234"))
	assert.Equal(t, "bus.A_B.sos", Subject(KindSOS, "A.B"))
	assert.Equal(t, "bus._.stops", Subject(KindStops, "  "))
	assert.Equal(t, "bus.x_y_z.passengers", Subject(KindPassengers, "x*y>z"))
}

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	b, err := Encode(KindPassengers, "TS09", at, map[string]int{"passenger_count": 12})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(b, &ev))
	assert.Equal(t, KindPassengers, ev.Type)
	assert.Equal(t, "TS09", ev.BusNumber)
	assert.True(t, at.Equal(ev.At))

	var payload struct {
		Count int `json:"passenger_count"`
	}
	require.NoError(t, ev.Decode(&payload))
	assert.Equal(t, 12, payload.Count)
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := Encode(KindLocation, "TS09", time.Now(), func() {})
	assert.Error(t, err)
}
