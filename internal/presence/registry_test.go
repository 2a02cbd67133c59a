package presence

import (
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeChannel struct {
	id   string
	mu   sync.Mutex
	msgs []any
	fail bool
}

func (f *fakeChannel) ID() string { return f.id }

func (f *fakeChannel) Send(msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write: broken pipe")
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeChannel{id: "a"}, &fakeChannel{id: "b"}
	r.Register(Driver("d1"), a)
	r.Register(Driver("d1"), b)

	ch, ok := r.ChannelOf(Driver("d1"))
	if !ok || ch.ID() != "b" {
		t.Fatalf("expected latest channel b, got %v", ch)
	}
	if err := r.SendTo(Driver("d1"), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("group delivery should reach both channels, got a=%d b=%d", a.count(), b.count())
	}
	if r.Count(RoleDriver) != 1 {
		t.Fatalf("one actor expected, got %d", r.Count(RoleDriver))
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	if _, _, ok := r.Unregister(&fakeChannel{id: "ghost"}); ok {
		t.Fatalf("unknown channel must not be reported")
	}
}

func TestUnregisterFallsBackToRemainingChannel(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeChannel{id: "a"}, &fakeChannel{id: "b"}
	r.Register(User("u1"), a)
	r.Register(User("u1"), b)

	actor, still, ok := r.Unregister(b)
	if !ok || actor != User("u1") || !still {
		t.Fatalf("unexpected unregister result %v %v %v", actor, still, ok)
	}
	ch, _ := r.ChannelOf(User("u1"))
	if ch.ID() != "a" {
		t.Fatalf("expected fallback to channel a, got %s", ch.ID())
	}
	if _, still, _ = r.Unregister(a); still {
		t.Fatalf("actor should be fully disconnected")
	}
	if r.Connected(User("u1")) {
		t.Fatalf("actor still connected")
	}
	if err := r.SendTo(User("u1"), "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRegisterUnderOtherActorRejected(t *testing.T) {
	r := NewRegistry()
	ch := &fakeChannel{id: "c"}
	if err := r.Register(User("u1"), ch); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(User("u1"), ch); err != nil {
		t.Fatalf("re-register as the same actor: %v", err)
	}
	err := r.Register(Actor{Role: RoleAdmin, ID: "ops"}, ch)
	if !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if !r.Connected(User("u1")) {
		t.Fatalf("first actor lost its channel")
	}
	if n := r.Broadcast(RoleAdmin, "event"); n != 0 {
		t.Fatalf("rejected actor received %d deliveries", n)
	}
	if actor, still, ok := r.Unregister(ch); !ok || actor != User("u1") || still {
		t.Fatalf("unregister reported %v %v %v", actor, still, ok)
	}
}

func TestGroupsAreScopedPerActor(t *testing.T) {
	r := NewRegistry()
	d, u := &fakeChannel{id: "d"}, &fakeChannel{id: "u"}
	r.Register(Driver("same-id"), d)
	r.Register(User("same-id"), u)
	_ = r.SendTo(Driver("same-id"), "offer")
	if u.count() != 0 {
		t.Fatalf("driver notification leaked to user with the same id")
	}
}
