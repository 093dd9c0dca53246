package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://bus:pw@db:5432/tracker?sslmode=disable", "postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres://bus:pw@db:5432/postgres?sslmode=disable", got)

	got, err = WithDBName("bus@db/tracker", "/other")
	require.NoError(t, err)
	assert.Equal(t, "postgres://bus@db/other", got)

	_, err = WithDBName("", "x")
	assert.Error(t, err)

	_, err = WithDBName("mysql://bus@db/tracker", "postgres")
	assert.Error(t, err)
}

func TestDatabaseName(t *testing.T) {
	name, err := DatabaseName("postgres://bus@db:5432/tracker?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "tracker", name)

	name, err = DatabaseName("bus@db/fleet")
	require.NoError(t, err)
	assert.Equal(t, "fleet", name)

	_, err = DatabaseName("postgres://bus@db:5432")
	assert.Error(t, err)
}

func TestIdentGuard(t *testing.T) {
	assert.True(t, identRe.MatchString("bus_tracker2"))
	assert.False(t, identRe.MatchString(`x"; DROP`))
	assert.False(t, identRe.MatchString("1abc"))
}
