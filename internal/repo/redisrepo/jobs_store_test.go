package redisrepo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoder89/eventops/internal/domain/job"
)

func newJob(t *testing.T) job.Job {
	t.Helper()

	j, err := job.New(job.CreateRequest{Type: job.TypeBulkEmail, Total: 3, Meta: []byte(`{"subject":"s"}`)}, time.Now())
	require.NoError(t, err)
	return j
}

// unreachable points at a port nothing listens on.
func unreachable() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestJobsStore_DegradesWhenRedisIsDown(t *testing.T) {
	s := NewJobsStore(unreachable(), Config{OpTimeout: 100 * time.Millisecond}, nil)
	defer s.Close(context.Background())

	ctx := context.Background()
	j := newJob(t)

	require.NoError(t, s.Put(ctx, j))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, got.ID)

	_, err = s.Get(ctx, "unknown")
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	require.NoError(t, s.RequestCancel(ctx, j.ID, time.Now()))
	assert.True(t, s.CancelRequested(ctx, j.ID))
}

func TestJobsStore_StaleRemoteKeepsCancelFlag(t *testing.T) {
	s := NewJobsStore(unreachable(), Config{OpTimeout: 100 * time.Millisecond, RemoteCacheTTL: time.Millisecond}, nil)
	defer s.Close(context.Background())

	ctx := context.Background()
	j := newJob(t)
	require.NoError(t, j.Transition(job.StatusRunning, time.Now()))

	// a mirror copy loaded before this instance saw the cancel
	s.mu.Lock()
	s.items[j.ID] = entry{job: j, remote: true, loadedAt: time.Now().Add(-time.Minute)}
	s.cancels[j.ID] = struct{}{}
	s.mu.Unlock()

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.True(t, got.Cancelled, "stale copy must carry the sticky cancel")
}

func redisForTest(t *testing.T) redis.UniversalClient {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestJobsStore_MirrorIsVisibleToOtherInstance(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()

	owner := NewJobsStore(rdb, Config{TTL: time.Minute}, nil)
	other := NewJobsStore(rdb, Config{TTL: time.Minute, RemoteCacheTTL: time.Millisecond}, nil)
	defer other.Close(ctx)

	j := newJob(t)
	require.NoError(t, j.Transition(job.StatusRunning, time.Now()))
	j.RecordSuccess()
	require.NoError(t, owner.Put(ctx, j))
	require.NoError(t, owner.Close(ctx))

	got, err := other.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Progress)
	assert.Equal(t, job.StatusRunning, got.Status)

	// a cancel raised on the other instance reaches the owner's worker
	require.NoError(t, other.RequestCancel(ctx, j.ID, time.Now()))

	owner2 := NewJobsStore(rdb, Config{TTL: time.Minute}, nil)
	defer owner2.Close(ctx)
	assert.True(t, owner2.CancelRequested(ctx, j.ID))

	ttl, err := rdb.TTL(ctx, jobKey(j.ID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestJobsStore_LatestSnapshotWins(t *testing.T) {
	rdb := redisForTest(t)
	ctx := context.Background()

	s := NewJobsStore(rdb, Config{TTL: time.Minute}, nil)

	j := newJob(t)
	require.NoError(t, j.Transition(job.StatusRunning, time.Now()))
	for i := 0; i < 3; i++ {
		j.RecordSuccess()
		require.NoError(t, s.Put(ctx, j))
	}
	require.NoError(t, s.Close(ctx))

	reader := NewJobsStore(rdb, Config{TTL: time.Minute}, nil)
	defer reader.Close(ctx)

	got, err := reader.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Progress)
}
