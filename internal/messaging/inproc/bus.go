package inproc

import (
	"errors"
	"sync"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

var (
	ErrRunNotSubscribed    = errors.New("run is not open in bus")
	ErrSubscriberQueueFull = errors.New("subscriber queue is full")
)

// Bus broadcasts progress events to watchers of a run. Publishing never
// blocks; a watcher that falls behind loses events.
type Bus struct {
	mu     sync.RWMutex
	runs   map[string]map[int]chan domain.ProgressEvent
	nextID int
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		runs:   make(map[string]map[int]chan domain.ProgressEvent),
		buffer: buffer,
	}
}

// Open marks a run as live so watchers can subscribe to it.
func (b *Bus) Open(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.runs[runID]; !ok {
		b.runs[runID] = make(map[int]chan domain.ProgressEvent)
	}
}

// Subscribe returns a channel of the run's future events and a cancel
// function. The channel is closed when the run finishes or cancel is called.
func (b *Bus) Subscribe(runID string) (<-chan domain.ProgressEvent, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.runs[runID]
	if !ok {
		return nil, nil, ErrRunNotSubscribed
	}
	b.nextID++
	id := b.nextID
	ch := make(chan domain.ProgressEvent, b.buffer)
	subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.unsubscribe(runID, id) })
	}
	return ch, cancel, nil
}

func (b *Bus) unsubscribe(runID string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.runs[runID]
	if !ok {
		return
	}
	ch, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(ch)
}

func (b *Bus) Publish(event domain.ProgressEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs, ok := b.runs[event.RunID]
	if !ok {
		return ErrRunNotSubscribed
	}
	var err error
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			err = ErrSubscriberQueueFull
		}
	}
	return err
}

// Close ends the run and closes every watcher channel.
func (b *Bus) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.runs[runID]
	if !ok {
		return
	}
	delete(b.runs, runID)
	for _, ch := range subs {
		close(ch)
	}
}

// Active reports whether runID is open.
func (b *Bus) Active(runID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.runs[runID]
	return ok
}
