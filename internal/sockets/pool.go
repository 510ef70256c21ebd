package sockets

import (
	"sync"
)

type SocketPool struct {
	mutex   sync.Mutex
	sockets map[SocketID]Socket
}

func NewSocketPool() *SocketPool {
	return &SocketPool{
		sockets: make(map[SocketID]Socket),
	}
}

// AddSocket registers soc, closing a previous socket with the same id.
func (p *SocketPool) AddSocket(soc Socket) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if oldConn, contains := p.sockets[soc.ID()]; contains && oldConn != soc {
		_ = oldConn.Close()
	}
	p.sockets[soc.ID()] = soc
}

// RemoveSocket forgets soc if it is still the socket registered under its id.
func (p *SocketPool) RemoveSocket(soc Socket) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if current, contains := p.sockets[soc.ID()]; contains && current == soc {
		delete(p.sockets, soc.ID())
	}
}

func (p *SocketPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.sockets)
}

func (p *SocketPool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for id, conn := range p.sockets {
		_ = conn.Close()
		delete(p.sockets, id)
	}
}
