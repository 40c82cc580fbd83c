// Package p2p implements the framed sub-protocol runtime: message framing,
// transports, peer identity and the peer pool the sync engine observes.
package p2p

import (
	"sync"
)

// Msg is the raw frame exchanged over the wire: a message code plus an
// opaque RLP payload.
type Msg struct {
	Code    uint64 // Message code.
	Size    uint32 // Payload size in bytes.
	Payload []byte // Raw payload bytes.
}

// MsgPipeEnd is one end of an in-memory message pipe.
type MsgPipeEnd struct {
	send      chan Msg
	recv      chan Msg
	done      chan struct{}
	closeOnce *sync.Once
}

// MsgPipe creates two connected in-memory transports. A message written to
// one end is readable from the other. Closing either end shuts down both.
func MsgPipe() (*MsgPipeEnd, *MsgPipeEnd) {
	ch1 := make(chan Msg, 16)
	ch2 := make(chan Msg, 16)
	done := make(chan struct{})
	once := new(sync.Once)

	a := &MsgPipeEnd{send: ch1, recv: ch2, done: done, closeOnce: once}
	b := &MsgPipeEnd{send: ch2, recv: ch1, done: done, closeOnce: once}
	return a, b
}

// ReadMsg reads the next message from the pipe, blocking until one arrives
// or the pipe is closed. Messages buffered before the close are still
// delivered.
func (p *MsgPipeEnd) ReadMsg() (Msg, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	default:
	}
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-p.done:
		return Msg{}, ErrTransportClosed
	}
}

// WriteMsg writes a message to the pipe.
func (p *MsgPipeEnd) WriteMsg(msg Msg) error {
	select {
	case <-p.done:
		return ErrTransportClosed
	default:
	}
	select {
	case p.send <- msg:
		return nil
	case <-p.done:
		return ErrTransportClosed
	}
}

// Close shuts down both ends of the pipe.
func (p *MsgPipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
