package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// fakeKV is an in-memory test double for redisKV.
type fakeKV struct {
	store   map[string]string
	lastTTL time.Duration

	setErr  error
	getErr  error
	pingVal string
	pingErr error
	closed  bool
}

func (f *fakeKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.store == nil {
		f.store = make(map[string]string)
	}
	f.store[key] = value
	f.lastTTL = ttl
	return nil
}

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	val, ok := f.store[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (f *fakeKV) PingResult(_ context.Context) (string, error) {
	return f.pingVal, f.pingErr
}

func (f *fakeKV) Close() error {
	f.closed = true
	return nil
}

func makeCache(kv redisKV) *RedisCache {
	return &RedisCache{kv: kv, ttl: time.Minute, cb: NewCircuitBreaker("test-" + uuid.NewString())}
}

func sampleEntries() []game.LeaderboardEntry {
	return []game.LeaderboardEntry{
		{Rank: 1, CompanyID: uuid.New(), Name: "Acme", Balance: 250, Rate: 3},
		{Rank: 2, CompanyID: uuid.New(), Name: "Globex", Balance: 120, Rate: 1.5},
	}
}

func TestRedisCache_LeaderboardRoundTrip(t *testing.T) {
	t.Parallel()

	kv := &fakeKV{}
	cache := makeCache(kv)
	want := sampleEntries()

	require.NoError(t, cache.SetLeaderboard(context.Background(), want))
	assert.Equal(t, time.Minute, kv.lastTTL)

	got, err := cache.Leaderboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRedisCache_Leaderboard_MissIsNotAnError(t *testing.T) {
	t.Parallel()

	cache := makeCache(&fakeKV{})

	got, err := cache.Leaderboard(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCache_Leaderboard_ReadError(t *testing.T) {
	t.Parallel()

	cache := makeCache(&fakeKV{getErr: errors.New("connection refused")})

	_, err := cache.Leaderboard(context.Background())
	assert.ErrorContains(t, err, "reading leaderboard")
}

func TestRedisCache_Leaderboard_CorruptPayload(t *testing.T) {
	t.Parallel()

	kv := &fakeKV{store: map[string]string{leaderboardKey: "{not json"}}
	cache := makeCache(kv)

	_, err := cache.Leaderboard(context.Background())
	assert.ErrorContains(t, err, "decoding leaderboard")
}

func TestRedisCache_SetLeaderboard_WriteError(t *testing.T) {
	t.Parallel()

	cache := makeCache(&fakeKV{setErr: errors.New("READONLY")})

	err := cache.SetLeaderboard(context.Background(), sampleEntries())
	assert.ErrorContains(t, err, "writing leaderboard")
}

func TestRedisCache_Probe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingVal    string
		pingErr    error
		wantOK     bool
		wantErrSub string
	}{
		{
			name:    "success — PING returns PONG",
			pingVal: "PONG",
			wantOK:  true,
		},
		{
			name:       "failure — PING returns error",
			pingErr:    errors.New("connection refused"),
			wantOK:     false,
			wantErrSub: "connection refused",
		},
		{
			name:       "failure — PING returns unexpected value",
			pingVal:    "WHOOPS",
			wantOK:     false,
			wantErrSub: "unexpected PING response",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cache := makeCache(&fakeKV{pingVal: tc.pingVal, pingErr: tc.pingErr})
			result := cache.Probe(context.Background())

			assert.Equal(t, redisProbeName, result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
			if tc.wantOK {
				assert.Empty(t, result.Error)
			}
		})
	}
}

func TestRedisCache_ProbeCircuitBreaker_OpensAfterThreeFailures(t *testing.T) {
	t.Parallel()

	cache := makeCache(&fakeKV{pingErr: errors.New("connection refused")})

	// Three consecutive failures should trip the breaker.
	for i := range 3 {
		result := cache.Probe(context.Background())
		assert.False(t, result.OK, "probe %d should fail", i+1)
		assert.NotEqual(t, "circuit open", result.Error,
			"probe %d should not be circuit-open yet", i+1)
	}

	// The 4th call must be rejected immediately by the open breaker.
	result := cache.Probe(context.Background())
	assert.False(t, result.OK)
	assert.Equal(t, "circuit open", result.Error)
}

func TestRedisCache_Close(t *testing.T) {
	t.Parallel()

	kv := &fakeKV{}
	cache := makeCache(kv)

	require.NoError(t, cache.Close())
	assert.True(t, kv.closed)
}
