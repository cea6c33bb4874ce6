package mem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pogo-ws/bridge/store"
)

func TestSessions(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	s := store.Session{UserID: "42", Info: map[string]interface{}{"name": "Ann"}}
	require.NoError(t, m.AddSession("tok1", s, time.Minute))

	got, err := m.GetSession("tok1")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	_, err = m.GetSession("nope")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, m.RemoveSession("tok1"))
	_, err = m.GetSession("tok1")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestSessionExpiry(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, m.AddSession("tok", store.Session{UserID: "1"}, time.Nanosecond))
	time.Sleep(5 * time.Millisecond)

	_, err = m.GetSession("tok")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestOccupancy(t *testing.T) {
	m, err := New(Config{})
	require.NoError(t, err)

	require.NoError(t, m.MarkOccupied("b"))
	require.NoError(t, m.MarkOccupied("a"))
	require.NoError(t, m.MarkOccupied("a"))

	chs, err := m.ListOccupied()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chs)

	require.NoError(t, m.MarkVacated("a"))
	chs, err = m.ListOccupied()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, chs)
}
