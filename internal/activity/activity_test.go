package activity

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/snehjoshi/contactrelay/internal/types"
)

func ev(outcome types.Outcome, n int) types.Event {
	return types.Event{
		Outcome: outcome,
		Payload: json.RawMessage(strconv.Itoa(n)),
		At:      time.Now(),
	}
}

func TestRecord_CapEvictsOldest(t *testing.T) {
	l := New(3)
	for i := 1; i <= 5; i++ {
		l.Record(ev(types.OutcomeSent, i))
	}

	if l.Len() != 3 {
		t.Fatalf("len: want 3, got %d", l.Len())
	}
	got := l.Recent(0)
	// Newest first: 5, 4, 3.
	want := []string{"5", "4", "3"}
	for i, w := range want {
		if string(got[i].Payload) != w {
			t.Fatalf("recent order: want %v, got payload %s at %d", want, got[i].Payload, i)
		}
	}
}

func TestRecent_Limit(t *testing.T) {
	l := New(10)
	for i := 1; i <= 4; i++ {
		l.Record(ev(types.OutcomeQueued, i))
	}

	got := l.Recent(2)
	if len(got) != 2 {
		t.Fatalf("want 2 events, got %d", len(got))
	}
	if string(got[0].Payload) != "4" || string(got[1].Payload) != "3" {
		t.Errorf("want newest first [4 3], got [%s %s]", got[0].Payload, got[1].Payload)
	}

	if n := len(l.Recent(100)); n != 4 {
		t.Errorf("limit above retained count: want 4, got %d", n)
	}
}

func TestNew_DefaultHistory(t *testing.T) {
	l := New(0)
	for i := 0; i < DefaultHistory+10; i++ {
		l.Record(ev(types.OutcomeSent, i))
	}
	if l.Len() != DefaultHistory {
		t.Errorf("default cap: want %d, got %d", DefaultHistory, l.Len())
	}
}

func TestSubscribe_ReceivesFutureEvents(t *testing.T) {
	l := New(10)
	l.Record(ev(types.OutcomeSent, 1)) // before subscription, must not arrive

	ch, cancel := l.Subscribe()
	defer cancel()

	l.Record(ev(types.OutcomeRetry, 2))

	select {
	case got := <-ch:
		if got.Outcome != types.OutcomeRetry || string(got.Payload) != "2" {
			t.Fatalf("want retry/2, got %s/%s", got.Outcome, got.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	l := New(10)
	ch, cancel := l.Subscribe()
	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("channel must be closed after cancel")
	}

	// Recording after cancel must not panic or deliver.
	l.Record(ev(types.OutcomeSent, 1))
}

func TestRecord_SlowSubscriberDropsNotBlocks(t *testing.T) {
	l := New(10)
	_, cancel := l.Subscribe() // nobody ever reads
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			l.Record(ev(types.OutcomeSent, i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a slow subscriber")
	}
}
