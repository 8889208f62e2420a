// Connection: one RTMP peer, either accepted (always Role Receiver) or
// dialed (Role Sender, either PUSH or PULL). Holds its own Socket and a
// *Relay directly (neither is a pointer cycle back to a Connection),
// but reaches its bound Server only through a ServerID resolved by the
// Relay — see spec.md §9 and server.go's header comment.
//
// Grounded on the teacher's rtmp_session.go/rtmp_session_utils.go for
// the per-connection state machine and control-message handling, and
// on original_source's PushReceiver.cpp for the role/mode semantics.

package main

import (
	"fmt"
	"time"
)

type Role int

const (
	RoleReceiver Role = iota // accepted: can only ever be published into
	RoleSender                // dialed: either pushes our Server out, or pulls a remote stream in
)

// Mode describes a connection's relationship to the local Server it is
// bound to, not the literal RTMP verb it issues: a dialed PULL
// connection that sends "play" is still mode Publisher here, because
// its incoming frames feed our Server.
type Mode int

const (
	ModePublisher Mode = iota
	ModeSubscriber
)

type connPhase int

const (
	phaseHandshake connPhase = iota
	phaseDialInvoking // dialed only: running the connect/createStream/play-or-publish chain
	phaseActive
	phaseClosed
)

type pendingInvoke struct {
	command string
}

// Connection is intentionally not safe for concurrent use: every
// method is only ever called from the single relay goroutine, via
// Network.Poll or the tick loop (spec.md §5).
type Connection struct {
	id    ConnectionID
	relay *Relay
	sock  Socket

	role  Role
	mode  Mode
	phase connPhase

	hs  *handshake
	dec *chunkDecoder
	enc *chunkEncoder

	serverID   ServerID
	hasServer  bool
	listenAddr string // accepted connections only: which host binding they came in on
	peerIP     string // accepted connections only: admission-guard accounting key

	// Dialed-only fields.
	desc  *ConnDescription
	retry *RetryPolicy

	appName    string
	streamName string

	nextTransactionID uint32
	outstanding       map[uint32]pendingInvoke
	createdStreamID   uint32
	nextStreamID      uint32 // next id handed out by handleCreateStream, skipping reserved ids

	connectTime  time.Time
	lastPingSent time.Time
	lastActivity time.Time

	bytesInWindow  uint64
	bytesOutWindow uint64
	windowElapsed  time.Duration
	bytesInRate    uint64
	bytesOutRate   uint64

	videoBytesWindow uint64
	audioBytesWindow uint64
	videoRate        uint64
	audioRate        uint64

	recvBuf []byte
}

// NewAcceptedConnection wraps a freshly accepted Socket. Always Role
// Receiver: an accepted peer can only ever publish into the relay,
// never play from it (PushReceiver.cpp never issues "play" itself).
func NewAcceptedConnection(id ConnectionID, relay *Relay, sock Socket, seed int64) *Connection {
	c := &Connection{
		id:          id,
		relay:       relay,
		sock:        sock,
		role:        RoleReceiver,
		hs:          newHandshake(true, seed),
		dec:         newChunkDecoder(),
		enc:         newChunkEncoder(),
		outstanding: make(map[uint32]pendingInvoke),
		connectTime: relay.now(),
		lastActivity: relay.now(),
	}
	return c
}

// NewDialedConnection wires a dialed Socket for a PUSH (mode
// Subscriber: we feed a remote server our aggregated stream) or PULL
// (mode Publisher: we feed a remote stream into our own server)
// egress/ingress description.
func NewDialedConnection(id ConnectionID, relay *Relay, sock Socket, desc *ConnDescription, retry *RetryPolicy, serverID ServerID, seed int64) *Connection {
	mode := ModeSubscriber
	if !desc.IsOutput {
		mode = ModePublisher
	}
	c := &Connection{
		id:          id,
		relay:       relay,
		sock:        sock,
		role:        RoleSender,
		mode:        mode,
		phase:       phaseHandshake,
		hs:          newHandshake(false, seed),
		dec:         newChunkDecoder(),
		enc:         newChunkEncoder(),
		outstanding: make(map[uint32]pendingInvoke),
		desc:        desc,
		retry:       retry,
		serverID:    serverID,
		hasServer:   true,
		appName:     desc.ApplicationName,
		streamName:  desc.StreamName,
		connectTime: relay.now(),
		lastActivity: relay.now(),
	}
	return c
}

func (c *Connection) ID() ConnectionID { return c.id }
func (c *Connection) Role() Role       { return c.role }
func (c *Connection) Mode() Mode       { return c.mode }
func (c *Connection) Active() bool     { return c.phase == phaseActive }
func (c *Connection) Closed() bool     { return c.phase == phaseClosed }

func (c *Connection) ServerID() (ServerID, bool) { return c.serverID, c.hasServer }

// wantsVideo/wantsAudio/wantsData gate a subscriber's broadcast
// channels per its configured ConnDescription flags (spec.md §4.E).
// Dialed connections (PUSH and PULL) carry a desc; accepted ones do not
// and default to receiving everything (no subscriber in this relay
// lacks one).
func (c *Connection) wantsVideo() bool { return c.desc == nil || c.desc.Video }
func (c *Connection) wantsAudio() bool { return c.desc == nil || c.desc.Audio }
func (c *Connection) wantsData() bool  { return c.desc == nil || c.desc.Data }

func (c *Connection) PeerAddress() (string, uint16) { return c.sock.PeerAddress() }
func (c *Connection) IsReady() bool                 { return c.sock.IsReady() }
func (c *Connection) HandshakeState() string        { return c.hs.state.String() }
func (c *Connection) StreamName() string            { return c.streamName }

// VideoBitrate/AudioBitrate report bits/second (bytes/second × 8),
// matching original_source/PushReceiver.cpp's getInfo rendering.
func (c *Connection) VideoBitrate() uint64 { return c.videoRate * 8 }
func (c *Connection) AudioBitrate() uint64 { return c.audioRate * 8 }

// RoleLabel renders this connection's role/mode pair for the status
// reporter, since Role alone doesn't distinguish a PUSH from a PULL
// dialed connection.
func (c *Connection) RoleLabel() string {
	switch {
	case c.role == RoleReceiver:
		return "Receiver"
	case c.mode == ModeSubscriber:
		return "Sender/PUSH"
	default:
		return "Sender/PULL"
	}
}

// Metadata returns the bound Server's latest cached metadata as a flat
// key/value map, for the status reporter (PushReceiver.cpp's getInfo
// iterates the same metaData map).
func (c *Connection) Metadata() map[string]string {
	if !c.hasServer {
		return nil
	}
	meta := c.relay.serverMetadata(c.serverID)
	if meta == nil {
		return nil
	}
	props := meta.Properties()
	out := make(map[string]string, len(props))
	for _, p := range props {
		out[p.Key] = p.Value.ToString("")
	}
	return out
}

// Start kicks off the dialing side's handshake by emitting C0/C1.
func (c *Connection) Start() {
	if c.role == RoleSender {
		c.sock.Send(c.hs.Start())
	}
}

// Update advances time-driven behavior: idle ping emission and the
// per-second byte-rate latch (spec.md §4.F/§8).
func (c *Connection) Update(dt time.Duration) {
	if c.phase == phaseClosed {
		return
	}

	c.windowElapsed += dt
	if c.windowElapsed >= time.Second {
		c.bytesInRate = c.bytesInWindow
		c.bytesOutRate = c.bytesOutWindow
		c.bytesInWindow = 0
		c.bytesOutWindow = 0
		c.videoRate = c.videoBytesWindow
		c.audioRate = c.audioBytesWindow
		c.videoBytesWindow = 0
		c.audioBytesWindow = 0
		c.windowElapsed -= time.Second
	}

	if c.phase == phaseActive && c.relay.cfg.PingInterval > 0 {
		interval := durationFromSeconds(c.relay.cfg.PingInterval)
		if c.relay.now().Sub(c.lastPingSent) >= interval {
			c.sendPing()
			c.lastPingSent = c.relay.now()
		}
	}
}

// OnBytes is the single entry point for inbound data, called only from
// Network.Poll on the relay goroutine. It drives the handshake to
// completion, then feeds the chunk decoder and dispatches messages.
func (c *Connection) OnBytes(data []byte) {
	if c.phase == phaseClosed {
		return
	}
	c.lastActivity = c.relay.now()
	c.bytesInWindow += uint64(len(data))

	c.recvBuf = append(c.recvBuf, data...)

	if !c.hs.Done() {
		if !c.driveHandshake() {
			return
		}
	}

	if len(c.recvBuf) == 0 {
		return
	}

	msgs, err := c.dec.Push(c.recvBuf)
	c.recvBuf = c.recvBuf[:0]
	if err != nil {
		c.fail(err)
		return
	}
	for _, m := range msgs {
		if err := c.dispatchMessage(m); err != nil {
			c.fail(err)
			return
		}
	}
}

// driveHandshake feeds recvBuf through the handshake state machine
// until it either completes or runs out of bytes; returns true once
// the handshake is done and any remainder should fall through to the
// chunk decoder.
func (c *Connection) driveHandshake() bool {
	for !c.hs.Done() {
		var out []byte
		var consumed int
		var err error
		if c.role == RoleReceiver {
			out, consumed, err = c.hs.FeedAccepted(c.recvBuf)
		} else {
			out, consumed, err = c.hs.FeedDialed(c.recvBuf)
		}
		if err != nil {
			c.fail(err)
			return false
		}
		if consumed == 0 && len(out) == 0 {
			return false // need more bytes
		}
		if len(out) > 0 {
			c.send(out)
		}
		c.recvBuf = c.recvBuf[consumed:]
		if consumed == 0 {
			break
		}
	}
	if c.hs.Done() {
		c.onHandshakeDone()
	}
	return c.hs.Done()
}

func (c *Connection) onHandshakeDone() {
	if c.retry != nil {
		c.retry.OnHandshakeDone()
	}
	if c.role == RoleSender {
		c.phase = phaseDialInvoking
		c.beginDialInvokeChain()
	} else {
		c.phase = phaseActive
	}
}

// send writes bytes to the socket and updates the outbound byte-rate
// counter; every outbound path funnels through here.
func (c *Connection) send(data []byte) {
	c.bytesOutWindow += uint64(len(data))
	c.sock.Send(data)
}

func (c *Connection) fail(err error) {
	logDebugConnection(uint64(c.id), c.peerIP, fmt.Sprintf("closing: %s", err))
	c.Close()
}

// Close tears down the connection: detaches from any bound Server and
// closes the socket. Safe to call more than once.
func (c *Connection) Close() {
	if c.phase == phaseClosed {
		return
	}
	c.phase = phaseClosed
	if c.hasServer {
		c.relay.onConnectionDetached(c)
	}
	c.sock.Close()
}

func (c *Connection) nextTID() uint32 {
	c.nextTransactionID++
	return c.nextTransactionID
}
