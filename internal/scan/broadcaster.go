package scan

import (
	"sync"

	"github.com/avermeer/circlesift/internal/models"
)

const subscriberBuffer = 16

// Broadcaster fans progress events out to any number of live subscribers
// per job. It remembers the last event per job so a new subscriber
// immediately sees current state before live events; there is no durable
// event log, a reconnecting subscriber gets the latest snapshot only.
type Broadcaster struct {
	mu   sync.Mutex
	seqs map[string]uint64
	last map[string]models.ProgressEvent
	subs map[string]map[chan models.ProgressEvent]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		seqs: make(map[string]uint64),
		last: make(map[string]models.ProgressEvent),
		subs: make(map[string]map[chan models.ProgressEvent]struct{}),
	}
}

// Publish stamps the event with the next sequence number for its job and
// delivers it to every current subscriber. A subscriber whose buffer is
// full misses the event; the sequence numbers let it detect the gap.
func (b *Broadcaster) Publish(event models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[event.JobID]++
	event.Sequence = b.seqs[event.JobID]
	b.last[event.JobID] = event

	for sub := range b.subs[event.JobID] {
		select {
		case sub <- event:
		default:
		}
	}
}

// Subscribe returns a stream of events for the job, beginning with the
// latest known snapshot. The returned func unsubscribes and closes the
// stream; it is safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string) (<-chan models.ProgressEvent, func()) {
	sub := make(chan models.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	if last, ok := b.last[jobID]; ok {
		sub <- last
	}
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan models.ProgressEvent]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[jobID]
		if !ok {
			return
		}
		if _, present := set[sub]; !present {
			return
		}
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, jobID)
		}
		close(sub)
	}
	return sub, unsubscribe
}

// LastEvent returns the most recent event published for the job
func (b *Broadcaster) LastEvent(jobID string) (models.ProgressEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	event, ok := b.last[jobID]
	return event, ok
}

// Forget drops all state for a job once its retention lapses and closes
// any remaining subscriber streams
func (b *Broadcaster) Forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.seqs, jobID)
	delete(b.last, jobID)
	for sub := range b.subs[jobID] {
		close(sub)
	}
	delete(b.subs, jobID)
}
