package cachestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptbatch/internal/command"
	"promptbatch/internal/engine"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openStore(t)

	entry := engine.CacheEntry{
		Key:       "k1",
		Name:      "caches/abc",
		Mode:      command.CachePlan,
		Artifacts: []string{"remote://a", "text(42 bytes)"},
		CreatedAt: time.Now(),
		TTL:       time.Hour,
	}
	s.Store(entry)

	got, ok := s.Lookup("k1")
	require.True(t, ok, "entry not found after store")
	assert.Equal(t, entry.Name, got.Name)
	assert.Equal(t, entry.Mode, got.Mode)
	assert.Equal(t, entry.Artifacts, got.Artifacts)
}

func TestLookupMissing(t *testing.T) {
	s := openStore(t)
	_, ok := s.Lookup("absent")
	assert.False(t, ok)
}

func TestFirstWriteWins(t *testing.T) {
	s := openStore(t)
	s.Store(engine.CacheEntry{Key: "k", Name: "first", Mode: command.CachePlan, CreatedAt: time.Now(), TTL: time.Hour})
	s.Store(engine.CacheEntry{Key: "k", Name: "second", Mode: command.CachePlan, CreatedAt: time.Now(), TTL: time.Hour})

	got, ok := s.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name, "conflicting write must not replace the original")
}

func TestExpiredEntryIsAbsent(t *testing.T) {
	s := openStore(t)
	s.Store(engine.CacheEntry{
		Key:       "old",
		Name:      "caches/stale",
		Mode:      command.CachePlan,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		TTL:       time.Hour,
	})
	_, ok := s.Lookup("old")
	assert.False(t, ok, "expired entry must be treated as absent")

	// Reaped: a fresh write under the same key must now succeed.
	s.Store(engine.CacheEntry{Key: "old", Name: "caches/fresh", Mode: command.CachePlan, CreatedAt: time.Now(), TTL: time.Hour})
	got, ok := s.Lookup("old")
	require.True(t, ok)
	assert.Equal(t, "caches/fresh", got.Name)
}

func TestZeroTTLNeverExpires(t *testing.T) {
	s := openStore(t)
	s.Store(engine.CacheEntry{
		Key:       "forever",
		Name:      "caches/pin",
		Mode:      command.CacheOverride,
		CreatedAt: time.Now().Add(-100 * time.Hour),
	})
	_, ok := s.Lookup("forever")
	assert.True(t, ok, "zero TTL must mean no expiry")
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	s.Store(engine.CacheEntry{Key: "k", Name: "caches/persisted", Mode: command.CachePlan, CreatedAt: time.Now(), TTL: time.Hour})
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok := reopened.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "caches/persisted", got.Name)
}
