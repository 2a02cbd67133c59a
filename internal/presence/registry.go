package presence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Actor identifies a logical participant; its group collects every channel
// the actor has open.
type Actor struct {
	Role Role
	ID   string
}

func Driver(id string) Actor { return Actor{Role: RoleDriver, ID: id} }
func User(id string) Actor   { return Actor{Role: RoleUser, ID: id} }

func (a Actor) String() string { return string(a.Role) + ":" + a.ID }

// Channel is one live connection able to deliver a message to its peer.
type Channel interface {
	ID() string
	Send(msg any) error
}

var ErrNotConnected = errors.New("actor not connected")

// Registry maps actors to their live channels. It is a process-local cache
// rebuilt from connection events; nothing in it is persisted.
type Registry struct {
	mu      sync.RWMutex
	groups  map[Actor]map[string]Channel
	latest  map[Actor]Channel
	owners  map[string]Actor
	byRoles map[Role]int
}

func NewRegistry() *Registry {
	return &Registry{
		groups:  make(map[Actor]map[string]Channel),
		latest:  make(map[Actor]Channel),
		owners:  make(map[string]Actor),
		byRoles: make(map[Role]int),
	}
}

// Register joins ch to actor's group; the last registration wins ChannelOf.
// A channel belongs to one actor for its lifetime, so registering it under a
// different actor fails and leaves the first owner in place.
func (r *Registry) Register(actor Actor, ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.owners[ch.ID()]; ok && prev != actor {
		return fmt.Errorf("%w: channel %s already joined as %s", models.ErrForbidden, ch.ID(), prev)
	}
	g, ok := r.groups[actor]
	if !ok {
		g = make(map[string]Channel)
		r.groups[actor] = g
		r.byRoles[actor.Role]++
		observability.ConnectedActors.WithLabelValues(string(actor.Role)).Inc()
	}
	g[ch.ID()] = ch
	r.latest[actor] = ch
	r.owners[ch.ID()] = actor
	return nil
}

// Unregister drops ch. It reports the owning actor and whether that actor
// still has other channels open. Unknown channels are a no-op.
func (r *Registry) Unregister(ch Channel) (actor Actor, stillConnected bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actor, ok = r.owners[ch.ID()]
	if !ok {
		return Actor{}, false, false
	}
	r.removeLocked(actor, ch.ID())
	_, stillConnected = r.groups[actor]
	return actor, stillConnected, true
}

func (r *Registry) removeLocked(actor Actor, chID string) {
	delete(r.owners, chID)
	g := r.groups[actor]
	delete(g, chID)
	if len(g) == 0 {
		delete(r.groups, actor)
		delete(r.latest, actor)
		r.byRoles[actor.Role]--
		observability.ConnectedActors.WithLabelValues(string(actor.Role)).Dec()
		return
	}
	if cur, ok := r.latest[actor]; ok && cur.ID() == chID {
		for _, other := range g {
			r.latest[actor] = other
			break
		}
	}
}

// ChannelOf returns the most recently registered channel of actor.
func (r *Registry) ChannelOf(actor Actor) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.latest[actor]
	return ch, ok
}

func (r *Registry) Connected(actor Actor) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[actor]
	return ok
}

func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byRoles[role]
}

// SendTo delivers msg to every channel in actor's group.
func (r *Registry) SendTo(actor Actor, msg any) error {
	chans := r.group(actor)
	if len(chans) == 0 {
		return ErrNotConnected
	}
	var errs []error
	for _, ch := range chans {
		if err := ch.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcast delivers msg to every channel of every actor holding role and
// returns the number of successful deliveries.
func (r *Registry) Broadcast(role Role, msg any) int {
	r.mu.RLock()
	var chans []Channel
	for actor, g := range r.groups {
		if actor.Role != role {
			continue
		}
		for _, ch := range g {
			chans = append(chans, ch)
		}
	}
	r.mu.RUnlock()
	n := 0
	for _, ch := range chans {
		if ch.Send(msg) == nil {
			n++
		}
	}
	return n
}

func (r *Registry) group(actor Actor) []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g := r.groups[actor]
	out := make([]Channel, 0, len(g))
	for _, ch := range g {
		out = append(out, ch)
	}
	return out
}
