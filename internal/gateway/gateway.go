// Package gateway terminates actor websockets: it authenticates the join,
// registers presence and routes every inbound event to one engine handler,
// answering on the same channel.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/engine"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

// Envelope is the wire shape of every inbound message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Result answers one inbound event as "<event>_result".
type Result struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Replier interface {
	Reply(ch presence.Channel, typ string, data any)
}

type route struct {
	role   presence.Role
	handle func(ctx context.Context, actor presence.Actor, raw json.RawMessage) (any, error)
}

var joins = map[string]presence.Role{
	"user_join":   presence.RoleUser,
	"driver_join": presence.RoleDriver,
	"admin_join":  presence.RoleAdmin,
}

type Gateway struct {
	engine   *engine.Engine
	registry *presence.Registry
	verifier *auth.Verifier
	replies  Replier
	logger   *slog.Logger
	timeout  time.Duration
	upgrader websocket.Upgrader
	routes   map[string]route
}

func New(eng *engine.Engine, registry *presence.Registry, verifier *auth.Verifier, replies Replier, logger *slog.Logger) *Gateway {
	g := &Gateway{
		engine:   eng,
		registry: registry,
		verifier: verifier,
		replies:  replies,
		logger:   logging.Component(logger, "gateway"),
		timeout:  10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	g.routes = g.buildRoutes()
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("ws_upgrade_failed", "err", err)
		return
	}
	s := newSession(conn)
	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()
		g.leave(s)
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go s.keepAlive(done)

	var actor *presence.Actor
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("ws_read_failed", "session", s.ID(), "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			g.replies.Reply(s, "error", Result{Code: models.ErrorCode(models.ErrBadRequest), Message: "malformed message"})
			continue
		}
		if role, ok := joins[env.Event]; ok {
			if a, ok := g.join(r.Context(), s, actor, role, env.Data); ok {
				actor = &a
			}
			continue
		}
		if actor == nil {
			g.replies.Reply(s, "auth_error", Result{Code: models.ErrorCode(models.ErrAuthentication), Message: "join before sending events"})
			continue
		}
		g.dispatch(r.Context(), s, *actor, env)
	}
}

type joinRequest struct {
	Token string `json:"token"`
}

// join authenticates a join event. cur is the actor the session already
// joined as, if any; a session cannot switch to another actor.
func (g *Gateway) join(ctx context.Context, s *Session, cur *presence.Actor, role presence.Role, raw json.RawMessage) (presence.Actor, bool) {
	var req joinRequest
	_ = json.Unmarshal(raw, &req)
	actor, err := g.verifier.Authenticate(req.Token, role)
	if err != nil {
		g.logger.Info("join_rejected", "role", role, "session", s.ID(), "err", err)
		g.replies.Reply(s, "auth_error", Result{Code: models.ErrorCode(err), Message: "authentication failed"})
		return presence.Actor{}, false
	}
	if cur != nil && *cur != actor {
		err := fmt.Errorf("%w: session already joined as %s", models.ErrForbidden, cur)
		g.replies.Reply(s, "auth_error", g.failure(err, "join", actor))
		return presence.Actor{}, false
	}
	var profile any
	if role == presence.RoleDriver {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		d, err := g.engine.JoinDriver(ctx, actor.ID)
		if err != nil {
			g.replies.Reply(s, "auth_error", g.failure(err, "driver_join", actor))
			return presence.Actor{}, false
		}
		profile = d
	}
	if err := g.registry.Register(actor, s); err != nil {
		g.replies.Reply(s, "auth_error", g.failure(err, "join", actor))
		return presence.Actor{}, false
	}
	g.logger.Info("actor_joined", "actor", actor.String(), "session", s.ID())
	g.replies.Reply(s, "connected", map[string]any{
		"role":       actor.Role,
		"id":         actor.ID,
		"session_id": s.ID(),
		"profile":    profile,
	})
	return actor, true
}

func (g *Gateway) leave(s *Session) {
	actor, still, ok := g.registry.Unregister(s)
	if !ok {
		return
	}
	g.logger.Info("actor_left", "actor", actor.String(), "session", s.ID(), "still_connected", still)
	if still {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	g.engine.Disconnect(ctx, actor)
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, actor presence.Actor, env Envelope) {
	reply := env.Event + "_result"
	rt, ok := g.routes[env.Event]
	if !ok {
		g.replies.Reply(s, "error", Result{Code: models.ErrorCode(models.ErrBadRequest), Message: fmt.Sprintf("unknown event %q", env.Event)})
		return
	}
	if rt.role != actor.Role {
		g.replies.Reply(s, reply, g.failure(fmt.Errorf("%w: %s cannot send %s", models.ErrForbidden, actor.Role, env.Event), env.Event, actor))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	data, err := rt.handle(ctx, actor, env.Data)
	if err != nil {
		g.replies.Reply(s, reply, g.failure(err, env.Event, actor))
		return
	}
	g.replies.Reply(s, reply, Result{Success: true, Data: data})
}

// failure converts err into a result. Internal faults are logged and
// reported without detail.
func (g *Gateway) failure(err error, event string, actor presence.Actor) Result {
	code := models.ErrorCode(err)
	if !models.Expected(err) {
		g.logger.Error("handler_failed", "event", event, "actor", actor.String(), "err", err)
		return Result{Code: code, Message: "internal error"}
	}
	g.logger.Debug("handler_rejected", "event", event, "actor", actor.String(), "code", code, "err", err)
	return Result{Code: code, Message: err.Error()}
}

func handle[T any](role presence.Role, fn func(ctx context.Context, actor presence.Actor, req T) (any, error)) route {
	return route{
		role: role,
		handle: func(ctx context.Context, actor presence.Actor, raw json.RawMessage) (any, error) {
			var req T
			if len(raw) > 0 && string(raw) != "null" {
				if err := json.Unmarshal(raw, &req); err != nil {
					return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
				}
			}
			return fn(ctx, actor, req)
		},
	}
}

func required(fields ...string) error {
	var missing []string
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			missing = append(missing, fields[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", models.ErrBadRequest, strings.Join(missing, ", "))
	}
	return nil
}
