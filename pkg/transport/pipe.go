package transport

import (
	"sync"
)

// Pipe returns two connected in-memory connections. Frames sent on one
// end are received on the other in order. Used by tests and the fake
// coordinator.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, 256)
	ba := make(chan []byte, 256)
	done := make(chan struct{})
	var once sync.Once
	shut := func() { once.Do(func() { close(done) }) }

	a := &pipeConn{out: ab, in: ba, done: done, shut: shut, remote: "pipe:b"}
	b := &pipeConn{out: ba, in: ab, done: done, shut: shut, remote: "pipe:a"}
	return a, b
}

type pipeConn struct {
	out    chan<- []byte
	in     <-chan []byte
	done   chan struct{}
	shut   func()
	remote string
}

func (p *pipeConn) RemoteAddr() string {
	return p.remote
}

func (p *pipeConn) Send(data []byte) error {
	frame := append([]byte(nil), data...)
	select {
	case <-p.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrConnectionClosed
	}
}

func (p *pipeConn) Receive() ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		// Drain what the peer sent before closing.
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, ErrConnectionClosed
		}
	}
}

// Close closes both ends.
func (p *pipeConn) Close() error {
	p.shut()
	return nil
}
