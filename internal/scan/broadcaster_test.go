package scan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avermeer/circlesift/internal/models"
)

func event(jobID string, progress int) models.ProgressEvent {
	return models.ProgressEvent{
		JobID:     jobID,
		Status:    models.JobStatusRunning,
		Stage:     models.StageFetch,
		Progress:  progress,
		Timestamp: time.Now(),
	}
}

func TestBroadcaster_SequencePerJob(t *testing.T) {
	b := NewBroadcaster()

	b.Publish(event("job_a", 10))
	b.Publish(event("job_a", 20))
	b.Publish(event("job_b", 5))

	lastA, ok := b.LastEvent("job_a")
	require.True(t, ok)
	assert.Equal(t, uint64(2), lastA.Sequence)

	lastB, ok := b.LastEvent("job_b")
	require.True(t, ok)
	assert.Equal(t, uint64(1), lastB.Sequence, "sequences are independent across jobs")
}

func TestBroadcaster_SubscribeReceivesSnapshotFirst(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(event("job_a", 10))
	b.Publish(event("job_a", 25))

	events, unsubscribe := b.Subscribe("job_a")
	defer unsubscribe()

	snapshot := <-events
	assert.Equal(t, 25, snapshot.Progress, "late subscribers get the latest snapshot, not a replay")
	assert.Equal(t, uint64(2), snapshot.Sequence)

	b.Publish(event("job_a", 30))
	live := <-events
	assert.Equal(t, 30, live.Progress)
	assert.Greater(t, live.Sequence, snapshot.Sequence)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()

	first, stopFirst := b.Subscribe("job_a")
	second, stopSecond := b.Subscribe("job_a")
	defer stopFirst()
	defer stopSecond()

	b.Publish(event("job_a", 50))

	assert.Equal(t, 50, (<-first).Progress)
	assert.Equal(t, 50, (<-second).Progress)
}

func TestBroadcaster_SlowSubscriberDropsWithGap(t *testing.T) {
	b := NewBroadcaster()

	events, unsubscribe := b.Subscribe("job_a")
	defer unsubscribe()

	// overflow the buffer without draining
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(event("job_a", i))
	}

	var sequences []uint64
	for len(events) > 0 {
		sequences = append(sequences, (<-events).Sequence)
	}

	require.Len(t, sequences, subscriberBuffer)
	for i := 1; i < len(sequences); i++ {
		assert.Greater(t, sequences[i], sequences[i-1], "delivered events stay in order")
	}

	last, _ := b.LastEvent("job_a")
	assert.Greater(t, last.Sequence, sequences[len(sequences)-1], "gap is visible via sequence numbers")
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, unsubscribe := b.Subscribe("job_a")

	unsubscribe()
	unsubscribe() // second call must not panic

	// publishing after unsubscribe must not panic either
	b.Publish(event("job_a", 10))
}

func TestBroadcaster_ForgetClosesStreams(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(event("job_a", 10))

	events, unsubscribe := b.Subscribe("job_a")
	<-events // drain snapshot

	b.Forget("job_a")

	_, ok := <-events
	assert.False(t, ok, "forget closes subscriber streams")

	_, found := b.LastEvent("job_a")
	assert.False(t, found)

	unsubscribe() // safe after forget
}
