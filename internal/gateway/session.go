package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 8192
)

// Session is one websocket connection. Writes are serialised because
// gorilla connections allow a single concurrent writer.
type Session struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{id: uuid.NewString(), conn: conn}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(msg)
}

func (s *Session) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (s *Session) keepAlive(done <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := s.ping(); err != nil {
				return
			}
		}
	}
}
