// Transport (net): a concrete, real-socket implementation of the
// narrow transport interface spec.md §6 treats as an external
// collaborator. One OS thread per live socket performs blocking I/O
// and only ever pushes events into a queue; Network.Poll, called once
// per tick from the relay goroutine, is the sole place callbacks run,
// which is what keeps every connection/server mutation on one thread
// (§5).

package main

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Socket is what a Connection holds to talk to its peer. It mirrors
// spec.md §6's transport interface.
type Socket interface {
	Send(data []byte)
	Close()
	IsReady() bool
	PeerAddress() (string, uint16)
	// SetCallbacks registers the handlers Network.Poll invokes for this
	// socket's queued events; set once, immediately after accept/dial.
	SetCallbacks(onBytes func([]byte), onClose func())
	// LastError reports why the socket closed, if it closed due to an
	// I/O failure rather than a clean EOF or an explicit Close call.
	LastError() error
}

type socketEventKind int

const (
	eventBytes socketEventKind = iota
	eventClose
	eventAccept
	eventDialResult
)

type socketEvent struct {
	sock         *netSocket
	kind         socketEventKind
	data         []byte
	listenAddr   string
	dialErr      error
	dialCallback func(Socket, error)
}

// netSocket wraps a net.Conn. Reads happen on a dedicated goroutine
// (readLoop); writes are issued directly since the relay goroutine is
// the only caller of Send, by construction (§5).
type netSocket struct {
	conn   net.Conn
	net    *Network
	closed atomic.Bool

	errMu   sync.Mutex
	lastErr error

	onBytes func([]byte)
	onClose func()
}

func (s *netSocket) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	_, err := s.conn.Write(data)
	if err != nil {
		s.shutdown()
	}
}

func (s *netSocket) Close() {
	s.shutdown()
}

func (s *netSocket) shutdown() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}

func (s *netSocket) IsReady() bool {
	return !s.closed.Load()
}

func (s *netSocket) LastError() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *netSocket) setLastError(err error) {
	if err == nil || errors.Is(err, io.EOF) {
		return
	}
	s.errMu.Lock()
	s.lastErr = &TransportError{Cause: err}
	s.errMu.Unlock()
}

func (s *netSocket) SetCallbacks(onBytes func([]byte), onClose func()) {
	s.onBytes = onBytes
	s.onClose = onClose
}

func (s *netSocket) PeerAddress() (string, uint16) {
	if addr, ok := s.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String(), uint16(addr.Port)
	}
	return s.conn.RemoteAddr().String(), 0
}

func (s *netSocket) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			s.net.push(socketEvent{sock: s, kind: eventBytes, data: chunk})
		}
		if err != nil {
			s.setLastError(err)
			s.closed.Store(true)
			s.net.push(socketEvent{sock: s, kind: eventClose})
			return
		}
	}
}

// Network owns the event queue every socket goroutine feeds, and the
// set of active listeners (deduplicated by address, per
// original_source's Relay.cpp).
type Network struct {
	queue     chan socketEvent
	listeners map[string]net.Listener
	onAccept  map[string]func(Socket, string)
}

func NewNetwork() *Network {
	return &Network{
		queue:     make(chan socketEvent, 4096),
		listeners: make(map[string]net.Listener),
		onAccept:  make(map[string]func(Socket, string)),
	}
}

func (n *Network) push(e socketEvent) {
	n.queue <- e
}

// Listen starts (or reuses) an acceptor bound to address. onAccept is
// invoked on the relay goroutine, via Poll, for every accepted socket.
func (n *Network) Listen(address string, onAccept func(sock Socket, address string)) error {
	if _, exists := n.listeners[address]; exists {
		n.onAccept[address] = onAccept
		return nil
	}

	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	n.listeners[address] = ln
	n.onAccept[address] = onAccept

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			sock := &netSocket{conn: c, net: n}
			n.push(socketEvent{sock: sock, kind: eventAccept, listenAddr: address})
			go sock.readLoop()
		}
	}()

	return nil
}

func (n *Network) CloseListener(address string) {
	if ln, ok := n.listeners[address]; ok {
		ln.Close()
		delete(n.listeners, address)
		delete(n.onAccept, address)
	}
}

// Dial connects to address in the background; onResult is invoked on
// the relay goroutine once the attempt settles (success or error).
func (n *Network) Dial(address string, timeout time.Duration, onResult func(Socket, error)) {
	go func() {
		var conn net.Conn
		var err error
		if timeout > 0 {
			conn, err = net.DialTimeout("tcp", address, timeout)
		} else {
			conn, err = net.Dial("tcp", address)
		}
		if err != nil {
			n.push(socketEvent{kind: eventDialResult, dialErr: classifyDialError(err), dialCallback: onResult})
			return
		}
		sock := &netSocket{conn: conn, net: n}
		n.push(socketEvent{sock: sock, kind: eventDialResult, dialCallback: onResult})
		go sock.readLoop()
	}()
}

// classifyDialError maps a net.Dial failure onto DialError's kinds so
// RetryPolicy's caller can log a useful reason without inspecting a
// raw net.OpError.
func classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &DialError{Kind: ErrDialTimeout, Message: err.Error()}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return &DialError{Kind: ErrDialRefused, Message: err.Error()}
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return &DialError{Kind: ErrDialReset, Message: err.Error()}
	}
	return &DialError{Kind: ErrDialRefused, Message: err.Error()}
}

// Poll drains every event queued since the last call, invoking
// callbacks inline. Called once per tick from the single relay
// goroutine; this is the only place any of those callbacks execute.
func (n *Network) Poll() {
	for {
		select {
		case e := <-n.queue:
			switch e.kind {
			case eventBytes:
				if e.sock.onBytes != nil {
					e.sock.onBytes(e.data)
				}
			case eventClose:
				if e.sock.onClose != nil {
					e.sock.onClose()
				}
			case eventAccept:
				if handler, ok := n.onAccept[e.listenAddr]; ok {
					handler(e.sock, e.listenAddr)
				} else {
					e.sock.Close()
				}
			case eventDialResult:
				if e.dialCallback != nil {
					if e.dialErr != nil {
						e.dialCallback(nil, e.dialErr)
					} else {
						e.dialCallback(e.sock, nil)
					}
				}
			}
		default:
			return
		}
	}
}
