package registry

import (
	"testing"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddAndGet(t *testing.T) {
	r := New()

	svc, err := r.Add("api", "https://api.example.com/health", 10)
	require.NoError(t, err)

	assert.NotEmpty(t, svc.ID)
	assert.True(t, svc.Active)
	assert.Equal(t, 10, svc.IntervalSeconds)

	got, err := r.Get(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.URL, got.URL)

	// Mutating the returned copy must not touch the registry.
	got.URL = "https://evil.example.com"
	again, err := r.Get(svc.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/health", again.URL)
}

func TestRegistry_AddValidation(t *testing.T) {
	r := New()

	_, err := r.Add("api", "", 10)
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = r.Add("api", "https://api.example.com", 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)
}

func TestRegistry_Remove(t *testing.T) {
	r := New()
	svc, err := r.Add("api", "https://api.example.com", 10)
	require.NoError(t, err)

	require.NoError(t, r.Remove(svc.ID))
	assert.ErrorIs(t, r.Remove(svc.ID), ErrServiceNotFound)

	_, err = r.Get(svc.ID)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegistry_SetActive(t *testing.T) {
	r := New()
	svc, err := r.Add("api", "https://api.example.com", 10)
	require.NoError(t, err)

	require.NoError(t, r.SetActive(svc.ID, false))
	assert.Empty(t, r.Active())
	assert.Len(t, r.List(), 1)

	assert.ErrorIs(t, r.SetActive("missing", true), ErrServiceNotFound)
}

func TestRegistry_MinActiveInterval(t *testing.T) {
	r := New()

	_, ok := r.MinActiveInterval()
	assert.False(t, ok, "empty registry has no interval")

	a, err := r.Add("a", "https://a.example.com", 30)
	require.NoError(t, err)
	_, err = r.Add("b", "https://b.example.com", 5)
	require.NoError(t, err)
	_, err = r.Add("c", "https://c.example.com", 60)
	require.NoError(t, err)

	min, ok := r.MinActiveInterval()
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, min)

	// Deactivated services do not count toward the minimum.
	b := r.List()[1]
	require.NoError(t, r.SetActive(b.ID, false))
	min, ok = r.MinActiveInterval()
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, min)

	require.NoError(t, r.SetActive(a.ID, false))
	min, ok = r.MinActiveInterval()
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, min)
}

func TestRegistry_Restore(t *testing.T) {
	r := New()

	created := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	r.Restore(domain.ServiceConfig{
		ID:              "persisted-id",
		Name:            "api",
		URL:             "https://api.example.com",
		IntervalSeconds: 45,
		Active:          false,
		CreatedAt:       created,
	})

	svc, err := r.Get("persisted-id")
	require.NoError(t, err)
	assert.Equal(t, "persisted-id", svc.ID)
	assert.Equal(t, 45, svc.IntervalSeconds)
	assert.False(t, svc.Active)
	assert.Equal(t, created, svc.CreatedAt)
}
