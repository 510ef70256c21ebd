package sockets

import (
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

type SocketID string

// Socket is a websocket connection that tolerates concurrent writers.
type Socket interface {
	ID() SocketID
	WriteJSON(v any) error
	ReadJSON(v any) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type socketImpl struct {
	id  SocketID
	ws  *websocket.Conn
	wmu sync.Mutex
}

// NewSocket wraps conn, identifying it by the peer address.
func NewSocket(conn *websocket.Conn) Socket {
	return &socketImpl{
		id: SocketID(conn.NetConn().RemoteAddr().String()),
		ws: conn,
	}
}

func (s *socketImpl) ID() SocketID {
	return s.id
}

func (s *socketImpl) WriteJSON(v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *socketImpl) ReadJSON(v any) error {
	return s.ws.ReadJSON(v)
}

func (s *socketImpl) SetReadDeadline(t time.Time) error {
	return s.ws.SetReadDeadline(t)
}

func (s *socketImpl) Close() error {
	return s.ws.Close()
}
