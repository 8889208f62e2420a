// Relay: the top-level supervisor owning both arenas (Connections and
// Servers by stable ID), the Network, the admission guard, and the
// single 10ms tick loop everything else runs on. Grounded on the
// teacher's RTMPServer (arena + accept loop + ping loop) generalized
// from one fixed local server to config.go's list of routed Servers,
// and on original_source/Relay.cpp for the host/client wiring and
// signal-driven shutdown shape.

package main

import (
	"fmt"
	"time"
)

type hostBinding struct {
	serverIDs []ServerID
}

type dialTarget struct {
	serverID  ServerID
	desc      *ConnDescription
	retry     *RetryPolicy
	connID    ConnectionID
	connected bool
}

type Relay struct {
	cfg     *Configuration
	network *Network
	guard   *IPGuard
	status  *StatusReporter

	servers      map[ServerID]*Server
	nextServerID ServerID

	connections  map[ConnectionID]*Connection
	nextConnID   ConnectionID

	hostBindings map[string]hostBinding // listen address -> servers accepting input there
	dialTargets  []*dialTarget

	clock    time.Time
	seedNext int64
}

func NewRelay(cfg *Configuration) (*Relay, error) {
	r := &Relay{
		cfg:          cfg,
		network:      NewNetwork(),
		servers:      make(map[ServerID]*Server),
		connections:  make(map[ConnectionID]*Connection),
		hostBindings: make(map[string]hostBinding),
		clock:        time.Unix(0, 0),
	}

	guard, err := NewIPGuard()
	if err != nil {
		return nil, err
	}
	r.guard = guard

	for _, sd := range cfg.Servers {
		sdCopy := sd
		id := r.nextServerID
		r.nextServerID++
		r.servers[id] = NewServer(id, &sdCopy)

		for _, in := range sdCopy.Inputs {
			switch in.Kind {
			case "host":
				for _, addr := range in.Addresses {
					b := r.hostBindings[addr]
					b.serverIDs = append(b.serverIDs, id)
					r.hostBindings[addr] = b
				}
			case "client":
				inCopy := in
				r.dialTargets = append(r.dialTargets, &dialTarget{
					serverID: id,
					desc:     &inCopy,
					retry:    NewRetryPolicy(inCopy),
				})
			}
		}

		for _, out := range sdCopy.Outputs {
			if out.Kind != "client" {
				continue // type:host outputs are schema-valid but never bind a connection
			}
			outCopy := out
			r.dialTargets = append(r.dialTargets, &dialTarget{
				serverID: id,
				desc:     &outCopy,
				retry:    NewRetryPolicy(outCopy),
			})
		}
	}

	if cfg.StatusPage != nil {
		r.status = NewStatusReporter(r, cfg.StatusPage)
	}

	return r, nil
}

func (r *Relay) now() time.Time {
	return r.clock
}

func (r *Relay) nextSeed() int64 {
	r.seedNext++
	return time.Now().UnixNano() ^ r.seedNext
}

// Run starts all listeners and drives the tick loop until stop is
// closed.
func (r *Relay) Run(stop <-chan struct{}) error {
	for addr := range r.hostBindings {
		if err := r.network.Listen(addr, r.onAccept); err != nil {
			return newConfigError("cannot listen on "+addr, err)
		}
	}
	if r.status != nil {
		if err := r.status.Start(); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(tickInterval * time.Millisecond)
	defer ticker.Stop()

	r.clock = time.Now()
	for {
		select {
		case <-stop:
			r.shutdownAll()
			return nil
		case now := <-ticker.C:
			dt := now.Sub(r.clock)
			r.clock = now
			r.tick(dt)
		}
	}
}

func (r *Relay) tick(dt time.Duration) {
	r.network.Poll()

	for _, c := range r.connections {
		c.Update(dt)
	}
	r.reapClosed()

	r.driveDialTargets(dt)

	if r.status != nil {
		r.status.Update(dt)
	}
}

func (r *Relay) reapClosed() {
	for id, c := range r.connections {
		if c.Closed() {
			delete(r.connections, id)
			if c.role == RoleReceiver && c.peerIP != "" {
				r.guard.Release(c.peerIP)
			}
		}
	}
}

func (r *Relay) driveDialTargets(dt time.Duration) {
	for _, t := range r.dialTargets {
		if t.connected {
			continue
		}
		t.retry.Tick(dt)
		if !t.retry.ReadyToDial() || t.retry.Exhausted() {
			continue
		}
		addr := t.retry.NextAddress()
		t.connected = true // claimed until dial settles, to avoid re-dialing every tick
		target := t
		r.network.Dial(addr, t.retry.DialTimeout(), func(sock Socket, err error) {
			r.onDialResult(target, sock, err)
		})
	}
}

func (r *Relay) onDialResult(t *dialTarget, sock Socket, err error) {
	if err != nil {
		t.connected = false
		logDebug("dial attempt to " + t.desc.Addresses[0] + " failed: " + err.Error())
		if !t.retry.OnDialFailed() {
			logWarning("dial target exhausted its retry budget: " + t.desc.Addresses[0])
		}
		return
	}

	id := r.nextConnID
	r.nextConnID++
	conn := NewDialedConnection(id, r, sock, t.desc, t.retry, t.serverID, r.nextSeed())
	sock.SetCallbacks(conn.OnBytes, func() { r.onDialConnectionClosed(t, conn) })
	r.connections[id] = conn
	t.connID = id
	conn.Start()
}

func (r *Relay) onDialConnectionClosed(t *dialTarget, conn *Connection) {
	if err := conn.sock.LastError(); err != nil {
		logDebugConnection(uint64(conn.id), conn.peerIP, "dialed connection dropped: "+err.Error())
	}
	conn.Close()
	t.connected = false
	if !conn.hs.Done() {
		t.retry.OnDialFailed()
	}
}

func (r *Relay) onAccept(sock Socket, address string) {
	ip, _ := sock.PeerAddress()
	if !r.guard.Admit(ip) {
		sock.Close()
		return
	}

	id := r.nextConnID
	r.nextConnID++
	conn := NewAcceptedConnection(id, r, sock, r.nextSeed())
	conn.listenAddr = address
	conn.peerIP = ip
	sock.SetCallbacks(conn.OnBytes, func() {
		if err := sock.LastError(); err != nil {
			logDebugConnection(uint64(id), ip, "connection dropped: "+err.Error())
		}
		conn.Close()
	})
	r.connections[id] = conn
	logRequest(uint64(id), ip, "accepted on "+address)
}

// onPublisherReady binds a freshly-published accepted connection (or a
// PULL connection that just completed its play invoke chain) to the
// Server whose input matches its (app, stream) identity.
func (r *Relay) onPublisherReady(c *Connection) error {
	var serverID ServerID
	var found bool

	if c.role == RoleReceiver {
		binding := r.hostBindings[c.listenAddr]
		for _, sid := range binding.serverIDs {
			if s, ok := r.servers[sid]; ok && s.MatchesInput(c.appName, c.streamName) {
				serverID = sid
				found = true
				break
			}
		}
	} else {
		serverID = c.serverID
		found = true
	}

	if !found {
		return newProtocolError(ErrUnexpectedCommand, "no configured server matches "+c.appName+"/"+c.streamName)
	}

	srv := r.servers[serverID]
	if srv.HasPublisher() {
		if existing, ok := srv.PublisherID(); ok {
			if old, ok2 := r.connections[existing]; ok2 {
				old.Close()
			}
		}
	}
	srv.BindPublisher(c.id, c.appName, c.streamName)
	c.serverID = serverID
	c.hasServer = true

	r.replayToAllSubscribers(srv)
	return nil
}

// onSubscriberReady attaches a dialed PUSH connection to its target
// Server once its publish invoke chain completes.
func (r *Relay) onSubscriberReady(c *Connection) error {
	srv, ok := r.servers[c.serverID]
	if !ok {
		return newProtocolError(ErrUnexpectedCommand, "subscriber targets an unknown server")
	}
	srv.AddSubscriber(c.id)
	r.replaySubscriber(srv, c)
	return nil
}

func (r *Relay) onConnectionDetached(c *Connection) {
	srv, ok := r.servers[c.serverID]
	if !ok {
		return
	}
	if pub, isPub := srv.PublisherID(); isPub && pub == c.id {
		srv.UnbindPublisher()
	}
	srv.RemoveSubscriber(c.id)
}

func (r *Relay) replaySubscriber(srv *Server, sub *Connection) {
	video, audio, meta := srv.ReplayState()
	if video != nil && sub.wantsVideo() {
		sub.SendVideoHeader(0, video)
	}
	if audio != nil && sub.wantsAudio() {
		sub.SendAudioHeader(0, audio)
	}
	if meta != nil && sub.wantsData() {
		sub.SendMetadata(meta)
	}
}

func (r *Relay) replayToAllSubscribers(srv *Server) {
	for _, id := range srv.Subscribers() {
		if sub, ok := r.connections[id]; ok {
			r.replaySubscriber(srv, sub)
		}
	}
}

func (r *Relay) onVideoFrame(pub *Connection, m Message) error {
	srv, ok := r.servers[pub.serverID]
	if !ok {
		return nil
	}
	if isVideoHeader(m.Body) {
		srv.OnVideoHeader(m.Body)
	}
	for _, id := range srv.Subscribers() {
		if sub, ok := r.connections[id]; ok && sub.wantsVideo() {
			sub.SendVideo(m.Timestamp, m.Body)
		}
	}
	return nil
}

func (r *Relay) onAudioFrame(pub *Connection, m Message) error {
	srv, ok := r.servers[pub.serverID]
	if !ok {
		return nil
	}
	if isAudioHeader(m.Body) {
		srv.OnAudioHeader(m.Body)
	}
	for _, id := range srv.Subscribers() {
		if sub, ok := r.connections[id]; ok && sub.wantsAudio() {
			sub.SendAudio(m.Timestamp, m.Body)
		}
	}
	return nil
}

func (r *Relay) onMetadata(pub *Connection, meta Amf0Value) error {
	srv, ok := r.servers[pub.serverID]
	if !ok {
		return nil
	}
	srv.OnMetadata(&meta)
	for _, id := range srv.Subscribers() {
		if sub, ok := r.connections[id]; ok && sub.wantsData() {
			sub.SendMetadata(&meta)
		}
	}
	return nil
}

func (r *Relay) onTextData(pub *Connection, values []Amf0Value) error {
	srv, ok := r.servers[pub.serverID]
	if !ok {
		return nil
	}
	for _, id := range srv.Subscribers() {
		if sub, ok := r.connections[id]; ok && sub.wantsData() {
			sub.SendTextData(values)
		}
	}
	return nil
}

func (r *Relay) shutdownAll() {
	for _, c := range r.connections {
		c.Close()
	}
	for addr := range r.hostBindings {
		r.network.CloseListener(addr)
	}
	if r.status != nil {
		r.status.Stop()
	}
}

// serverMetadata resolves a bound Connection's Server to its latest
// cached metadata, for Connection.Metadata's status-reporter use.
func (r *Relay) serverMetadata(id ServerID) *Amf0Value {
	srv, ok := r.servers[id]
	if !ok {
		return nil
	}
	_, _, meta := srv.ReplayState()
	return meta
}

// Snapshot is used by the status reporter to render the current state
// without reaching into Relay internals directly. Per-connection detail
// (id, name, role, peer address, handshake state, bitrates, metadata)
// mirrors original_source/PushReceiver.cpp's getInfo.
func (r *Relay) Snapshot() RelaySnapshot {
	snap := RelaySnapshot{}
	for id, c := range r.connections {
		ip, port := c.PeerAddress()
		entry := ConnectionSnapshot{
			ID:             uint64(id),
			StreamName:     c.StreamName(),
			Role:           c.RoleLabel(),
			PeerAddress:    fmt.Sprintf("%s:%d", ip, port),
			Connected:      c.IsReady(),
			HandshakeState: c.HandshakeState(),
			VideoBitrate:   c.VideoBitrate(),
			AudioBitrate:   c.AudioBitrate(),
			Metadata:       c.Metadata(),
		}
		snap.Connections = append(snap.Connections, entry)
	}
	return snap
}
