package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/irdkwmnsb/webrtc-meeting/internal/api"
	"github.com/irdkwmnsb/webrtc-meeting/internal/sockets"
)

// ConnectionLoop owns the write side of a backend session: queued server messages and pings.
type ConnectionLoop struct {
	socket     sockets.Socket
	messages   chan api.ServerMessage
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pingTicker *time.Ticker
}

func NewConnectionLoop(socket sockets.Socket, pingInterval time.Duration) *ConnectionLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionLoop{
		socket:     socket,
		messages:   make(chan api.ServerMessage, 64),
		ctx:        ctx,
		cancel:     cancel,
		pingTicker: time.NewTicker(pingInterval),
	}
}

func (l *ConnectionLoop) Start() {
	l.wg.Add(2)
	go l.messageWriterLoop()
	go l.pingLoop()
}

func (l *ConnectionLoop) Stop() {
	l.cancel()
	l.pingTicker.Stop()
	l.wg.Wait()
}

// Done is closed when the loop stopped, either by Stop or by a failed write.
func (l *ConnectionLoop) Done() <-chan struct{} {
	return l.ctx.Done()
}

// SendMessage queues msg, blocking while the queue is full. Messages sent after the loop
// stopped are dropped.
func (l *ConnectionLoop) SendMessage(msg api.ServerMessage) {
	select {
	case l.messages <- msg:
	case <-l.ctx.Done():
	}
}

func (l *ConnectionLoop) messageWriterLoop() {
	defer l.wg.Done()
	defer l.cancel()

	for {
		select {
		case msg := <-l.messages:
			if err := l.socket.WriteJSON(msg); err != nil {
				slog.Error("failed to send message to backend client", "socketID", l.socket.ID(), "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *ConnectionLoop) pingLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.pingTicker.C:
			if err := l.socket.WriteJSON(api.ServerMessage{
				Event: api.ServerMessageEventPing,
				Ping:  &api.PingMessage{Timestamp: time.Now().Unix()},
			}); err != nil {
				slog.Error("failed to send ping", "socketID", l.socket.ID(), "error", err)
				l.cancel()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
