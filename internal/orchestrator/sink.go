package orchestrator

import (
	"sync"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

// EventSink receives progress events in order. Emit is called from the
// workflow goroutine and must not block for long.
type EventSink interface {
	Emit(event domain.ProgressEvent)
}

type SinkFunc func(event domain.ProgressEvent)

func (f SinkFunc) Emit(event domain.ProgressEvent) { f(event) }

// MultiSink forwards each event to every non-nil sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event domain.ProgressEvent) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

// EventLog keeps every emitted event in memory.
type EventLog struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (l *EventLog) Emit(event domain.ProgressEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *EventLog) Events() []domain.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.ProgressEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *EventLog) Statuses() []domain.EventStatus {
	events := l.Events()
	out := make([]domain.EventStatus, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Status)
	}
	return out
}
