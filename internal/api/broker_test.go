package api

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	uid := "u1"
	ch := b.Subscribe(uid)

	evt := PlanEvent{Type: "plan.feasible", Data: map[string]any{"x": 1}}
	b.Publish(uid, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(uid, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}

func TestBrokerIsolatesUsers(t *testing.T) {
	b := NewBroker()
	chA := b.Subscribe("ua")
	chB := b.Subscribe("ub")
	defer b.Unsubscribe("ua", chA)
	defer b.Unsubscribe("ub", chB)

	b.Publish("ua", PlanEvent{Type: "plan.feasible"})
	select {
	case <-chA:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("subscriber for ua got nothing")
	}
	select {
	case evt := <-chB:
		t.Fatalf("subscriber for ub received %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	b, err := NewRedisBroker()
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	ch := b.Subscribe("u1")

	b.Publish("u1", PlanEvent{Type: "plan.feasible", Data: map[string]any{"planId": "p1"}})

	select {
	case got := <-ch:
		if got.Type != "plan.feasible" {
			t.Fatalf("got type %s", got.Type)
		}
		if got.Data["planId"] != "p1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for redis event")
	}
	b.Unsubscribe("u1", ch)
}

func TestRedisBrokerPublishAfterUnsubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	b, err := NewRedisBroker()
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	ch := b.Subscribe("u1")
	b.Unsubscribe("u1", ch)

	// a replan landing after the stream client disconnected must not reach
	// (or crash on) the released channel
	b.Publish("u1", PlanEvent{Type: "plan.feasible"})

	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("event delivered after unsubscribe: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("fanout channel not closed after unsubscribe")
	}
	// second unsubscribe for the same channel is a no-op
	b.Unsubscribe("u1", ch)
}
