package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore("sqlite", "file::memory:", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", (&Store{driverName: "postgres"}).placeholder(1))
	assert.Equal(t, "$3", (&Store{driverName: "postgres"}).placeholder(3))
	assert.Equal(t, "?", (&Store{driverName: "mysql"}).placeholder(1))
}

func TestDialector(t *testing.T) {
	for _, name := range []string{"mysql", "postgres"} {
		d, err := dialector(name)
		require.NoError(t, err)
		assert.NotNil(t, d)
	}
}
