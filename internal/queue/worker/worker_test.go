package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/domain/job"
)

type fakeStore struct {
	mu     sync.Mutex
	jobs   map[string]job.Job
	cancel map[string]bool
	puts   []job.Job
	putErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]job.Job{}, cancel: map[string]bool{}}
}

func (s *fakeStore) Get(_ context.Context, id string) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *fakeStore) Put(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts = append(s.puts, j.Clone())
	if s.putErr != nil {
		return s.putErr
	}
	s.jobs[j.ID] = j.Clone()
	return nil
}

func (s *fakeStore) CancelRequested(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel[id]
}

func (s *fakeStore) requestCancel(id string) {
	s.mu.Lock()
	s.cancel[id] = true
	s.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
	onEv   func(broadcast.Event)
}

func (r *recorder) Publish(ev broadcast.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	fn := r.onEv
	r.mu.Unlock()

	if fn != nil {
		fn(ev)
	}
}

func (r *recorder) kinds() []broadcast.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]broadcast.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func seedJob(t *testing.T, s *fakeStore, typ job.Type, total int) job.Job {
	t.Helper()

	j, err := job.New(job.CreateRequest{Type: typ, Total: total, Meta: []byte(`{}`)}, time.Now())
	require.NoError(t, err)

	s.jobs[j.ID] = j
	return j
}

func unitsFor(keys []string, do func(i int, key string) error) []Unit {
	out := make([]Unit, 0, len(keys))
	for i, k := range keys {
		i, k := i, k
		out = append(out, Unit{Key: k, Do: func(context.Context) error { return do(i, k) }})
	}
	return out
}

func planOf(units []Unit) Planner {
	return func(context.Context, job.Job) ([]Unit, error) { return units, nil }
}

func newTestWorker(s *fakeStore, pub Publisher, interval time.Duration) (*Worker, *[]time.Duration) {
	w := New(Config{
		Intervals:   map[job.Type]time.Duration{job.TypeBulkEmail: interval, job.TypeBulkCheckpoint: interval},
		UnitTimeout: time.Second,
	}, s, pub, nil)

	var slept []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}

	return w, &slept
}

func TestRun_PerTargetFailureDoesNotFailJob(t *testing.T) {
	s := newFakeStore()
	pub := &recorder{}
	j := seedJob(t, s, job.TypeBulkEmail, 3)

	w, slept := newTestWorker(s, pub, Pacing(60, 250*time.Millisecond))

	keys := []string{"a@x.io", "b@x.io", "c@x.io"}
	units := unitsFor(keys, func(i int, _ string) error {
		if i == 1 {
			return errors.New("smtp: mailbox unavailable")
		}
		return nil
	})

	got, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Progress)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, []string{"b@x.io"}, got.Failed)
	assert.NotEmpty(t, got.FailureReasons["b@x.io"])
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.Error)

	// pacing between targets only, never after the last one
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *slept)

	assert.Equal(t, []broadcast.EventKind{
		broadcast.EventStarted,
		broadcast.EventProgress, broadcast.EventProgress, broadcast.EventProgress,
		broadcast.EventCompleted,
	}, pub.kinds())
}

func TestRun_CancellationBoundary(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 5)
	w, _ := newTestWorker(s, nil, 0)

	var ran []int
	units := unitsFor([]string{"a", "b", "c", "d", "e"}, func(i int, _ string) error {
		ran = append(ran, i)
		if i == 1 {
			// cancel arrives while target 2 is in flight
			s.requestCancel(j.ID)
		}
		return nil
	})

	got, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.True(t, got.Cancelled)
	assert.Equal(t, 2, got.Progress)
	assert.Equal(t, []int{0, 1}, ran)

	stored, _ := s.Get(context.Background(), j.ID)
	assert.Equal(t, job.StatusCancelled, stored.Status)
}

func TestRun_CancelBeforeFirstTarget(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkCheckpoint, 2)
	s.requestCancel(j.ID)
	w, _ := newTestWorker(s, nil, 0)

	called := false
	units := unitsFor([]string{"r1", "r2"}, func(int, string) error {
		called = true
		return nil
	})

	got, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCancelled, got.Status)
	assert.Zero(t, got.Progress)
	assert.False(t, called)
}

func TestRun_ContextCancelInterruptsPacing(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &recorder{onEv: func(ev broadcast.Event) {
		if ev.Kind == broadcast.EventProgress {
			cancel()
		}
	}}

	w := New(Config{Intervals: map[job.Type]time.Duration{job.TypeBulkEmail: time.Hour}}, s, pub, nil)

	var unitCtxErr error
	units := unitsFor([]string{"a", "b", "c"}, func(int, string) error { return nil })
	units[0].Do = func(uctx context.Context) error {
		unitCtxErr = uctx.Err()
		return nil
	}

	done := make(chan job.Job, 1)
	go func() {
		got, _ := w.Run(ctx, j.ID, planOf(units))
		done <- got
	}()

	select {
	case got := <-done:
		assert.Equal(t, job.StatusCancelled, got.Status)
		assert.Equal(t, 1, got.Progress)
		assert.NoError(t, unitCtxErr)
	case <-time.After(5 * time.Second):
		t.Fatal("pacing sleep was not interrupted by cancellation")
	}
}

func TestRun_PlanErrorFailsJob(t *testing.T) {
	s := newFakeStore()
	pub := &recorder{}
	j := seedJob(t, s, job.TypeBulkEmail, 2)
	w, _ := newTestWorker(s, pub, 0)

	got, err := w.Run(context.Background(), j.ID, func(context.Context, job.Job) ([]Unit, error) {
		return nil, errors.New("corrupted target list")
	})
	require.NoError(t, err)

	assert.Equal(t, job.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "corrupted target list")
	assert.Equal(t, broadcast.EventFailed, pub.kinds()[len(pub.kinds())-1])
}

func TestRun_TargetCountMismatchFailsJob(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 3)
	w, _ := newTestWorker(s, nil, 0)

	got, err := w.Run(context.Background(), j.ID, planOf(unitsFor([]string{"a"}, func(int, string) error { return nil })))
	require.NoError(t, err)

	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Zero(t, got.Progress)
}

func TestRun_SkipAndPanicOutcomes(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkCheckpoint, 3)
	w, _ := newTestWorker(s, nil, 0)

	units := unitsFor([]string{"r1", "r2", "r3"}, func(i int, _ string) error {
		switch i {
		case 0:
			return Skip("alreadyScanned")
		case 1:
			panic("boom")
		}
		return nil
	})

	got, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Progress)
	assert.Equal(t, 1, got.Skipped)
	assert.Equal(t, []string{"r1"}, got.SkippedKeys)
	assert.Equal(t, "alreadyScanned", got.SkipReasons["r1"])
	assert.Equal(t, []string{"r2"}, got.Failed)
	assert.Contains(t, got.FailureReasons["r2"], "boom")
	assert.Equal(t, 1, got.Succeeded)
}

func TestRun_ProgressIsMonotonicAndBounded(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 4)
	w, _ := newTestWorker(s, nil, 0)

	units := unitsFor([]string{"a", "b", "c", "d"}, func(i int, _ string) error {
		if i%2 == 0 {
			return errors.New("nope")
		}
		return nil
	})

	_, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	prev := -1
	var prevUpdated int64
	for _, p := range s.puts {
		assert.GreaterOrEqual(t, p.Progress, prev)
		assert.LessOrEqual(t, p.Progress, p.Total)
		assert.GreaterOrEqual(t, p.UpdatedAt, prevUpdated)
		prev = p.Progress
		prevUpdated = p.UpdatedAt
	}
}

func TestRun_StoreWriteErrorsAreSwallowed(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 2)
	s.putErr = errors.New("redis: connection refused")
	w, _ := newTestWorker(s, nil, 0)

	got, err := w.Run(context.Background(), j.ID, planOf(unitsFor([]string{"a", "b"}, func(int, string) error { return nil })))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Progress)
}

func TestRun_RejectsNonQueuedJob(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 1)
	require.NoError(t, j.Transition(job.StatusRunning, time.Now()))
	s.jobs[j.ID] = j

	w, _ := newTestWorker(s, nil, 0)

	_, err := w.Run(context.Background(), j.ID, planOf(nil))
	assert.ErrorIs(t, err, job.ErrInvalidTransition)

	_, err = w.Run(context.Background(), "missing", planOf(nil))
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestRun_UnitTimeoutBoundsHungTarget(t *testing.T) {
	s := newFakeStore()
	j := seedJob(t, s, job.TypeBulkEmail, 1)
	w := New(Config{UnitTimeout: 20 * time.Millisecond}, s, nil, nil)

	units := []Unit{{Key: "slow", Do: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}}

	got, err := w.Run(context.Background(), j.ID, planOf(units))
	require.NoError(t, err)

	assert.Equal(t, job.StatusCompleted, got.Status)
	assert.Equal(t, []string{"slow"}, got.Failed)
}

func TestPacing(t *testing.T) {
	tests := []struct {
		rate int
		min  time.Duration
		want time.Duration
	}{
		{60, 250 * time.Millisecond, time.Second},
		{600, 250 * time.Millisecond, 250 * time.Millisecond},
		{0, 0, 0},
		{0, 100 * time.Millisecond, 100 * time.Millisecond},
		{120, 0, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Pacing(tt.rate, tt.min), "rate=%d min=%s", tt.rate, tt.min)
	}
}
