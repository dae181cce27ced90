package engine

import (
	"testing"
	"time"

	"github.com/tmsylvan/corrigo/internal/model"
)

func TestNotifierSubscribeThenDone(t *testing.T) {
	n := NewNotifier()
	ch, unsub := n.Subscribe("sub1")
	defer unsub()

	want := Event{SubmissionID: "sub1", Status: model.StatusDone, Result: model.OutcomeSuccess, Grade: 100}
	n.Done("sub1", want)

	select {
	case got := <-ch:
		if got != want {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	// The channel is closed after delivery.
	if _, ok := <-ch; ok {
		t.Error("channel still open after delivery")
	}
}

func TestNotifierLateSubscriber(t *testing.T) {
	n := NewNotifier()
	want := Event{SubmissionID: "sub1", Status: model.StatusError}
	n.Done("sub1", want)

	ch, unsub := n.Subscribe("sub1")
	defer unsub()

	select {
	case got := <-ch:
		if got != want {
			t.Errorf("event = %+v, want %+v", got, want)
		}
	default:
		t.Fatal("late subscriber not served immediately")
	}
}

func TestNotifierMultipleSubscribers(t *testing.T) {
	n := NewNotifier()
	ch1, unsub1 := n.Subscribe("sub1")
	ch2, unsub2 := n.Subscribe("sub1")
	defer unsub1()
	defer unsub2()

	n.Done("sub1", Event{SubmissionID: "sub1", Status: model.StatusDone})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.SubmissionID != "sub1" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no event", i)
		}
	}
}

func TestNotifierUnsubscribe(t *testing.T) {
	n := NewNotifier()
	ch, unsub := n.Subscribe("sub1")
	unsub()

	n.Done("sub1", Event{SubmissionID: "sub1", Status: model.StatusDone})

	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("unsubscribed channel got event %+v", ev)
		}
	default:
	}
}

func TestNotifierForgetDropsMarker(t *testing.T) {
	n := NewNotifier()
	n.Done("sub1", Event{SubmissionID: "sub1", Status: model.StatusDone})
	n.Forget("sub1")

	// A forgotten topic blocks like a never-seen one.
	ch, unsub := n.Subscribe("sub1")
	defer unsub()
	select {
	case ev := <-ch:
		t.Errorf("subscriber on forgotten topic got %+v", ev)
	default:
	}
}

func TestNotifierSecondDoneWakesNobody(t *testing.T) {
	n := NewNotifier()
	ch, unsub := n.Subscribe("sub1")
	defer unsub()

	n.Done("sub1", Event{SubmissionID: "sub1", Status: model.StatusDone})
	<-ch
	n.Done("sub1", Event{SubmissionID: "sub1", Status: model.StatusError})

	// The marker now carries the replacement for late subscribers.
	late, lateUnsub := n.Subscribe("sub1")
	defer lateUnsub()
	if ev := <-late; ev.Status != model.StatusError {
		t.Errorf("late event status = %q, want error", ev.Status)
	}
}
