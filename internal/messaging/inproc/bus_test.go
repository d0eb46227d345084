package inproc

import (
	"errors"
	"testing"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

func TestSubscribeRequiresOpenRun(t *testing.T) {
	b := New(4)
	if _, _, err := b.Subscribe("r1"); !errors.Is(err, ErrRunNotSubscribed) {
		t.Fatalf("subscribe err=%v want=%v", err, ErrRunNotSubscribed)
	}
	if err := b.Publish(domain.ProgressEvent{RunID: "r1"}); !errors.Is(err, ErrRunNotSubscribed) {
		t.Fatalf("publish err=%v want=%v", err, ErrRunNotSubscribed)
	}
}

func TestPublishFansOutAndCloseEndsStreams(t *testing.T) {
	b := New(4)
	b.Open("r1")
	first, cancelFirst, err := b.Subscribe("r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelFirst()
	second, cancelSecond, err := b.Subscribe("r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelSecond()

	if err := b.Publish(domain.ProgressEvent{RunID: "r1", Status: domain.EventAgentSelected, Agent: "emotion"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.Close("r1")

	for _, ch := range []<-chan domain.ProgressEvent{first, second} {
		ev, ok := <-ch
		if !ok || ev.Agent != "emotion" {
			t.Fatalf("event=%+v ok=%v", ev, ok)
		}
		if _, ok := <-ch; ok {
			t.Fatalf("channel still open after close")
		}
	}
	if b.Active("r1") {
		t.Fatalf("run still active after close")
	}
	// Cancelling after close must not panic on a closed channel.
	cancelFirst()
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := New(1)
	b.Open("r1")
	ch, cancel, err := b.Subscribe("r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := b.Publish(domain.ProgressEvent{RunID: "r1", Status: domain.EventWorkflowStarted}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.Publish(domain.ProgressEvent{RunID: "r1", Status: domain.EventAgentSelected}); !errors.Is(err, ErrSubscriberQueueFull) {
		t.Fatalf("second publish err=%v want=%v", err, ErrSubscriberQueueFull)
	}
	if ev := <-ch; ev.Status != domain.EventWorkflowStarted {
		t.Fatalf("status=%s", ev.Status)
	}
}

func TestCancelRemovesOnlyThatSubscriber(t *testing.T) {
	b := New(4)
	b.Open("r1")
	gone, cancelGone, _ := b.Subscribe("r1")
	kept, cancelKept, _ := b.Subscribe("r1")
	defer cancelKept()

	cancelGone()
	if _, ok := <-gone; ok {
		t.Fatalf("cancelled channel still open")
	}
	if err := b.Publish(domain.ProgressEvent{RunID: "r1", Status: domain.EventMonitoring}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ev := <-kept; ev.Status != domain.EventMonitoring {
		t.Fatalf("status=%s", ev.Status)
	}
}
