// Package notify delivers state-change events to the actors a ride concerns
// and to the observer stream (admin channels plus external sinks).
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

// Event is the envelope written to every channel and sink.
type Event struct {
	Type string    `json:"event"`
	Data any       `json:"data"`
	At   time.Time `json:"at"`
}

// Sink receives observer events off the request path.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

type Channels interface {
	SendTo(actor presence.Actor, msg any) error
	Broadcast(role presence.Role, msg any) int
}

type Emitter struct {
	channels Channels
	sinks    []Sink
	queue    chan Event
	now      func() time.Time
	logger   *slog.Logger
}

func NewEmitter(channels Channels, logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		channels: channels,
		sinks:    sinks,
		queue:    make(chan Event, 1024),
		now:      time.Now,
		logger:   logging.Component(logger, "notify"),
	}
}

func (e *Emitter) event(typ string, data any) Event {
	return Event{Type: typ, Data: data, At: e.now().UTC()}
}

func (e *Emitter) ToUser(userID, typ string, data any) {
	e.send(presence.User(userID), e.event(typ, data))
}

func (e *Emitter) ToDriver(driverID, typ string, data any) {
	e.send(presence.Driver(driverID), e.event(typ, data))
}

// Reply writes straight to one channel, e.g. a join acknowledgement.
func (e *Emitter) Reply(ch presence.Channel, typ string, data any) {
	if err := ch.Send(e.event(typ, data)); err != nil {
		e.logger.Debug("reply_failed", "event", typ, "channel", ch.ID(), "err", err)
	}
}

func (e *Emitter) send(actor presence.Actor, ev Event) {
	err := e.channels.SendTo(actor, ev)
	switch {
	case err == nil:
	case errors.Is(err, presence.ErrNotConnected):
		e.logger.Debug("recipient_offline", "actor", actor.String(), "event", ev.Type)
	default:
		e.logger.Warn("delivery_failed", "actor", actor.String(), "event", ev.Type, "err", err)
	}
}

// Observe broadcasts ev to admins and queues it for the sinks. A full queue
// drops the event rather than stalling the caller.
func (e *Emitter) Observe(typ string, data any) {
	ev := e.event(typ, data)
	e.channels.Broadcast(presence.RoleAdmin, ev)
	if len(e.sinks) == 0 {
		return
	}
	select {
	case e.queue <- ev:
	default:
		observability.EventsDropped.Inc()
		e.logger.Warn("observer_queue_full", "event", typ)
	}
}

// Run drains the observer queue into the sinks until ctx is done, then
// flushes what is left with a short deadline.
func (e *Emitter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return nil
		case ev := <-e.queue:
			e.publish(ctx, ev)
		}
	}
}

func (e *Emitter) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case ev := <-e.queue:
			e.publish(ctx, ev)
		default:
			return
		}
	}
}

func (e *Emitter) publish(ctx context.Context, ev Event) {
	for _, s := range e.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			observability.SinkErrors.WithLabelValues(s.Name()).Inc()
			e.logger.Warn("sink_publish_failed", "sink", s.Name(), "event", ev.Type, "err", err)
		}
	}
}
