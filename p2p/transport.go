package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ethsync/ethsync/metrics"
)

var (
	// ErrTransportClosed is returned when reading or writing a closed transport.
	ErrTransportClosed = errors.New("p2p: transport closed")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("p2p: frame too large")
)

// MaxFrameSize bounds the payload of a single frame.
const MaxFrameSize = 16 * 1024 * 1024

// Transport reads and writes framed messages on a connection.
type Transport interface {
	ReadMsg() (Msg, error)
	WriteMsg(msg Msg) error
	Close() error
}

// ConnTransport extends Transport with remote address information.
type ConnTransport interface {
	Transport
	RemoteAddr() string
}

// Dialer establishes outbound connections to peers.
type Dialer interface {
	Dial(addr string) (ConnTransport, error)
}

// Listener accepts inbound connections from peers.
type Listener interface {
	Accept() (ConnTransport, error)
	Close() error
	Addr() net.Addr
}

// frameTransport is a plaintext length-prefixed frame codec over a net.Conn.
// The frame layout is: 8-byte big-endian code, 4-byte big-endian payload
// length, payload bytes. An encrypted transport would slot in behind the
// same Transport interface.
type frameTransport struct {
	conn net.Conn

	rmu    sync.Mutex
	wmu    sync.Mutex
	closed bool
	cmu    sync.Mutex
}

// NewFrameTransport wraps a net.Conn in a framed transport.
func NewFrameTransport(conn net.Conn) ConnTransport {
	return &frameTransport{conn: conn}
}

func (t *frameTransport) ReadMsg() (Msg, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	if t.isClosed() {
		return Msg{}, ErrTransportClosed
	}

	var head [12]byte
	if _, err := io.ReadFull(t.conn, head[:]); err != nil {
		return Msg{}, err
	}
	code := binary.BigEndian.Uint64(head[:8])
	size := binary.BigEndian.Uint32(head[8:])
	if size > MaxFrameSize {
		return Msg{}, ErrFrameTooLarge
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(t.conn, payload); err != nil {
		return Msg{}, err
	}
	metrics.MessagesReceived.Inc()
	return Msg{Code: code, Size: size, Payload: payload}, nil
}

func (t *frameTransport) WriteMsg(msg Msg) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.isClosed() {
		return ErrTransportClosed
	}
	if len(msg.Payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var head [12]byte
	binary.BigEndian.PutUint64(head[:8], msg.Code)
	binary.BigEndian.PutUint32(head[8:], uint32(len(msg.Payload)))
	if _, err := t.conn.Write(head[:]); err != nil {
		return err
	}
	if _, err := t.conn.Write(msg.Payload); err != nil {
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}

func (t *frameTransport) Close() error {
	t.cmu.Lock()
	t.closed = true
	t.cmu.Unlock()
	return t.conn.Close()
}

func (t *frameTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *frameTransport) isClosed() bool {
	t.cmu.Lock()
	defer t.cmu.Unlock()
	return t.closed
}

// TCPDialer dials TCP connections and wraps them in a frame transport.
type TCPDialer struct{}

// Dial connects to addr via TCP.
func (d *TCPDialer) Dial(addr string) (ConnTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	return NewFrameTransport(conn), nil
}

// TCPListener wraps a net.Listener to accept connections as ConnTransports.
type TCPListener struct {
	ln net.Listener
}

// NewTCPListener creates a TCPListener from a net.Listener.
func NewTCPListener(ln net.Listener) *TCPListener {
	return &TCPListener{ln: ln}
}

// Accept blocks until an inbound TCP connection arrives.
func (l *TCPListener) Accept() (ConnTransport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewFrameTransport(conn), nil
}

// Close stops the listener.
func (l *TCPListener) Close() error { return l.ln.Close() }

// Addr returns the listener's network address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }
