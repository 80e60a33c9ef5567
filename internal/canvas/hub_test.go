package canvas

import (
	"sync"
	"testing"
	"time"
)

func receive(t *testing.T, sub *Subscription) StreamMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected message on subscription")
	}
	return StreamMessage{}
}

func TestHubPublishFanout(t *testing.T) {
	hub := NewHub()
	sub1 := hub.Subscribe("canvas")
	sub2 := hub.Subscribe("canvas")
	other := hub.Subscribe("other")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()
	defer other.Unsubscribe()

	hub.Publish(StreamMessage{Type: MessageAction, CanvasID: "canvas", Action: "draw_line"})

	if msg := receive(t, sub1); msg.Action != "draw_line" {
		t.Fatalf("expected draw_line on sub1, got %q", msg.Action)
	}
	if msg := receive(t, sub2); msg.Action != "draw_line" {
		t.Fatalf("expected draw_line on sub2, got %q", msg.Action)
	}
	select {
	case msg := <-other.C():
		t.Fatalf("unexpected message for other canvas: %+v", msg)
	default:
	}
}

func TestHubUnsubscribeIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("canvas")
	sub.Unsubscribe()
	sub.Unsubscribe()

	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	if n := hub.Subscribers("canvas"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	hub.Publish(StreamMessage{Type: MessageAction, CanvasID: "canvas"})
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(WithSubscriberBuffer(1))
	slow := hub.Subscribe("canvas")
	fast := hub.Subscribe("canvas")
	defer fast.Unsubscribe()

	hub.Publish(StreamMessage{Type: MessageAction, CanvasID: "canvas", Seq: 1})
	receive(t, fast)
	hub.Publish(StreamMessage{Type: MessageAction, CanvasID: "canvas", Seq: 2})

	if msg := receive(t, fast); msg.Seq != 2 {
		t.Fatalf("expected fast subscriber to get seq 2, got %d", msg.Seq)
	}
	if msg := <-slow.C(); msg.Seq != 1 {
		t.Fatalf("expected buffered seq 1 on slow subscriber, got %d", msg.Seq)
	}
	if _, ok := <-slow.C(); ok {
		t.Fatalf("expected slow subscriber to be closed")
	}
	if n := hub.Subscribers("canvas"); n != 1 {
		t.Fatalf("expected 1 remaining subscriber, got %d", n)
	}
}

type recordingRelay struct {
	mu   sync.Mutex
	msgs []StreamMessage
}

func (r *recordingRelay) Forward(msg StreamMessage) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func TestHubForwardsToRelayButDeliverDoesNot(t *testing.T) {
	hub := NewHub()
	relay := &recordingRelay{}
	hub.SetRelay(relay)
	sub := hub.Subscribe("canvas")
	defer sub.Unsubscribe()

	hub.Publish(StreamMessage{Type: MessageAction, CanvasID: "canvas", Seq: 1})
	hub.Deliver(StreamMessage{Type: MessageAction, CanvasID: "canvas", Seq: 2})

	receive(t, sub)
	receive(t, sub)
	relay.mu.Lock()
	defer relay.mu.Unlock()
	if len(relay.msgs) != 1 || relay.msgs[0].Seq != 1 {
		t.Fatalf("expected only the published message to be relayed, got %+v", relay.msgs)
	}
}

func TestHubClose(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("canvas")
	hub.Close()
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected subscription closed by hub close")
	}
	late := hub.Subscribe("canvas")
	if _, ok := <-late.C(); ok {
		t.Fatalf("expected subscription on closed hub to be closed")
	}
	late.Unsubscribe()
}
