package broadcast

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish_DeliversOnlyToJobSubscribers(t *testing.T) {
	b := New(quietLogger())

	var got []Event
	unsub := b.Subscribe("job-1", func(ev Event) { got = append(got, ev) })
	defer unsub()

	b.Subscribe("job-2", func(ev Event) { t.Fatalf("job-2 subscriber must not receive job-1 events") })

	b.Publish(Event{Kind: EventProgress, JobID: "job-1", Progress: 1, Total: 3})

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Progress)
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	b := New(quietLogger())

	calls := 0
	unsubA := b.Subscribe("job-1", func(Event) { calls++ })
	unsubB := b.Subscribe("job-1", func(Event) { calls += 10 })

	unsubA()
	unsubA()

	assert.Equal(t, 1, b.Subscribers("job-1"))

	b.Publish(Event{JobID: "job-1"})
	assert.Equal(t, 10, calls)

	unsubB()
	assert.Equal(t, 0, b.Subscribers("job-1"))
}

func TestPublish_SwallowsPanickingSubscriber(t *testing.T) {
	b := New(quietLogger())

	delivered := false
	b.Subscribe("job-1", func(Event) { panic("boom") })
	b.Subscribe("job-1", func(Event) { delivered = true })

	assert.NotPanics(t, func() { b.Publish(Event{JobID: "job-1"}) })
	assert.True(t, delivered)
}

func TestSubscribe_ConcurrentWithPublish(t *testing.T) {
	b := New(quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("job-1", func(Event) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			b.Publish(Event{JobID: "job-1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Subscribers("job-1"))
}
